package pricing

import (
	"errors"
	"fmt"
)

// ErrInvalidQuantity is returned when a raw quantity cannot be parsed as an integer.
var ErrInvalidQuantity = errors.New("pricing: invalid quantity")

// UnsupportedCurrencyError reports an ISO 4217 code that is not recognised.
type UnsupportedCurrencyError struct {
	Code string
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("pricing: unsupported currency %q", e.Code)
}

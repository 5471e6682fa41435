package cartstore

import (
	"errors"
	"fmt"
)

var (
	ErrLineNotFound    = errors.New("cart line not found")
	ErrAlreadyMerged   = errors.New("server cart already merged")
	ErrProductNotFound = errors.New("product not found")
	ErrVariantRequired = errors.New("product requires a variant")
)

// InvalidQuantityError is returned when a requested quantity falls outside the
// configured bounds. Nothing is mutated when it is returned.
type InvalidQuantityError struct {
	Quantity int
	Min      int
	Max      int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d outside [%d, %d]", e.Quantity, e.Min, e.Max)
}

// OutOfStockError is returned when the resulting line quantity would exceed
// the stock the catalog last reported.
type OutOfStockError struct {
	Key       LineKey
	Name      string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	label := e.Name
	if label == "" {
		label = string(e.Key)
	}
	return fmt.Sprintf("%s: requested %d, only %d available", label, e.Requested, e.Available)
}

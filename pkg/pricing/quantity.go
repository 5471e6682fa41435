package pricing

import (
	"fmt"
	"strconv"
	"strings"
)

// Clamp bounds value to [min, max].
func Clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ClampQuantity parses raw user input and clamps it to [min, max].
// Non-numeric input yields ErrInvalidQuantity rather than a silent default.
func ClampQuantity(raw string, min, max int) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
	}
	return Clamp(value, min, max), nil
}

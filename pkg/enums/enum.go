// Package enums holds the string-backed domain enumerations persisted in the
// database and exchanged over the API.
package enums

import (
	"fmt"
	"slices"
)

// values is the closed set of members of one enumeration.
type values[T ~string] []T

func (v values[T]) has(x T) bool {
	return slices.Contains(v, x)
}

func (v values[T]) parse(kind, raw string) (T, error) {
	if x := T(raw); v.has(x) {
		return x, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}

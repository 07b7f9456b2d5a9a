package domain

import (
	"fmt"
	"math"
	"strings"
)

// MaxQueryLength bounds accepted search queries.
const MaxQueryLength = 2000

// ValidateQuery trims the query and checks the length bounds. Returns the
// trimmed query on success.
func ValidateQuery(raw string) (string, error) {
	q := strings.TrimSpace(raw)
	if q == "" {
		return "", NewValidationError("query", raw, ErrEmptyQuery)
	}
	if len(q) > MaxQueryLength {
		return "", NewValidationError("query", fmt.Sprintf("%d chars", len(q)), ErrQueryTooLong)
	}
	return q, nil
}

// ValidateVector checks that a vector is non-empty and all-finite. Malformed
// vectors are a data-integrity signal, not a transient fault.
func ValidateVector(v []float32) error {
	if len(v) == 0 {
		return NewValidationError("vector", "", ErrEmptyVector)
	}
	for i, f := range v {
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return NewValidationError("vector", fmt.Sprintf("index %d", i), ErrNonFiniteVector)
		}
	}
	return nil
}

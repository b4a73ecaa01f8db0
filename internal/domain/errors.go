package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the scoring pipeline. Only these three classes abort
// a request; everything else degrades gracefully.
var (
	// ErrCustomerNotFound means the customer has no history record.
	// Client-resolvable; the pipeline halts before any scoring.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrInvalidRequest covers malformed score requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInternal wraps classifier inference errors and any unexpected
	// failure. Surfaced to the caller with a generic message only.
	ErrInternal = errors.New("internal scoring failure")
)

// UnknownValueError is returned when a categorical field's value is not
// present in its encoder table. Client-resolvable; names the field.
type UnknownValueError struct {
	Field string
	Value string
}

func (e *UnknownValueError) Error() string {
	return fmt.Sprintf("unknown value for %s: %q", e.Field, e.Value)
}

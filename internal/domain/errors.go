package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request that is structurally malformed. It is
	// terminal: the same request would fail identically on every provider,
	// so it never retries and never triggers failover.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a lookup for an entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a state transition the entity's current status
	// does not permit, such as canceling a message already handed to a
	// provider.
	ErrConflict = errors.New("conflict")
)

// ValidationError pinpoints the field that failed a structural check.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when an alert does not exist or belongs to someone else.
	ErrNotFound = errors.New("alert not found")
	// ErrStoreUnavailable is returned when the persistence layer cannot complete an operation.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NewValidationError wraps ErrValidation with a reason.
func NewValidationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// NewStoreUnavailableError wraps both ErrStoreUnavailable and the driver error.
func NewStoreUnavailableError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

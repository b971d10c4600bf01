package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed create input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound covers unknown, destroyed and exhausted notes alike.
	ErrNotFound = errors.New("note not found")
	// ErrExpired is returned once a note's deadline has passed.
	ErrExpired = errors.New("note expired")
	// ErrTransient is returned by storage adapters for contention and
	// timeouts that may succeed on retry.
	ErrTransient = errors.New("transient storage failure")
	// ErrStorageUnavailable is surfaced after transient retries are exhausted.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError describes which create field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a *ValidationError for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

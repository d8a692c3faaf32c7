package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// It is usually wrapped by a *ValidationError naming the offending field.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrUnknownCardKind is returned when a card configuration carries a
	// type discriminator outside the supported set.
	ErrUnknownCardKind = errors.New("unknown card type")

	// ErrUnauthorized is returned when a caller could not be identified.
	ErrUnauthorized = errors.New("unauthorized operation")

	// ErrPermissionDenied is returned when an identified caller acts on a
	// resource owned by someone else.
	ErrPermissionDenied = errors.New("permission denied")
)

// ValidationError reports which field of an entity failed validation.
// Field uses the JSON path of the value (for example "options[1]" or
// "cards[3].config.front").
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// WithPrefix returns a copy of the error whose field path is nested under prefix.
func (e *ValidationError) WithPrefix(prefix string) *ValidationError {
	field := prefix
	if e.Field != "" {
		field = prefix + "." + e.Field
	}
	return &ValidationError{Field: field, Message: e.Message}
}

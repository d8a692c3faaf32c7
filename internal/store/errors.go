package store

import (
	"errors"
	"fmt"
)

// Errors shared by the SQL stores. Driver errors are translated into these
// by sqlstore.MapError.
var (
	ErrNotFound  = errors.New("entity not found")
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity covers entities rejected before storage as well as
	// schema constraint violations.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed wraps begin, commit and rollback failures.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrRetryable marks transient failures (serialization conflicts,
	// deadlocks, busy databases) after which the whole operation may be
	// attempted again.
	ErrRetryable = errors.New("transient store failure")

	ErrBoxNotFound  = fmt.Errorf("%w: box", ErrNotFound)
	ErrCardNotFound = fmt.Errorf("%w: card", ErrNotFound)
)

// IsNotFoundError reports whether err is ErrNotFound or one of its box and card variants.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the operation that produced err may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// StoreError records which entity and operation a store failure came from.
type StoreError struct {
	Entity    string // "box" or "card"
	Operation string // e.g. "create", "batch_update"
	Message   string
	Err       error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation on %s failed: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

package mutation

import (
	"errors"
	"fmt"

	"github.com/jpalmerr/livestore/internal/store"
)

var (
	// ErrInvalidInput marks a request rejected before the store was touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreFailure marks an unexpected store error.
	ErrStoreFailure = errors.New("store failure")
)

// ValidationError is an [ErrInvalidInput] carrying a client-facing message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// storeFailure wraps err as ErrStoreFailure unless it is already one of the
// store's expected outcomes.
func storeFailure(op string, err error, expected ...error) error {
	for _, e := range expected {
		if errors.Is(err, e) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

func isExpected(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrUnknownResource) ||
		errors.Is(err, store.ErrConflict)
}

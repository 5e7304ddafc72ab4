package evaluation

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed input. Not retryable.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an absent evaluator or question.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps a failed store call.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInternal marks a failure that is neither input nor store related.
	ErrInternal = errors.New("internal error")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

package storage

import (
	"errors"

	"github.com/haasonsaas/outie/internal/retry"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// retryableError marks lock-contention failures the caller should retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps an error as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Fatal wraps an error so the retry helper gives up immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return retry.Permanent(err)
}

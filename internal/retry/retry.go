// Package retry provides utilities for retrying operations with a fixed
// backoff schedule.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config configures retry behavior. Delays holds the sleep before each retry;
// the number of attempts is len(Delays)+1.
type Config struct {
	Delays []time.Duration
}

// Storage is the retry schedule for retryable storage errors.
func Storage() Config {
	return Config{Delays: []time.Duration{
		100 * time.Millisecond,
		500 * time.Millisecond,
		2 * time.Second,
	}}
}

// Do executes op, retrying on retryable errors until the schedule is
// exhausted. Permanent errors and context cancellation stop immediately.
func Do(ctx context.Context, config Config, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = op()
		if err == nil || IsPermanent(err) {
			return err
		}
		if attempt >= len(config.Delays) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.Delays[attempt]):
		}
	}
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, error) {
	var value T
	err := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, err
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

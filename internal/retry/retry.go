// Package retry wraps upstream registry calls with bounded exponential
// backoff. Errors marked non-retryable fail immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the number of retries after the first attempt
	// (0 = no retry).
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff schedule.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// Jitter randomizes delays to avoid thundering herd.
	Jitter bool
	// RetryableFunc decides whether an error is worth retrying.
	RetryableFunc func(error) bool
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		Jitter:        true,
		RetryableFunc: DefaultRetryableFunc,
	}
}

// DefaultRetryableFunc retries everything except context errors and errors
// wrapped as non-retryable.
func DefaultRetryableFunc(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var nonRetryable *NonRetryableError
	return !errors.As(err, &nonRetryable)
}

// Retrier executes functions with retry.
type Retrier struct {
	config Config
}

// New creates a retrier, filling in defaults for unset fields.
func New(config Config) *Retrier {
	if config.MaxAttempts < 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 1 {
		config.Multiplier = 2.0
	}
	if config.RetryableFunc == nil {
		config.RetryableFunc = DefaultRetryableFunc
	}

	return &Retrier{config: config}
}

// Do executes fn, retrying retryable failures up to MaxAttempts times. The
// delay schedule is exponential with the configured multiplier and cap. A
// cancelled context aborts the wait.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	schedule := r.newBackOff()
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= r.config.MaxAttempts {
			break
		}
		if !r.config.RetryableFunc(err) {
			return err
		}

		select {
		case <-time.After(schedule.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &Error{
		Err:      lastErr,
		Attempts: r.config.MaxAttempts + 1,
	}
}

// newBackOff builds the delay schedule for one Do call.
func (r *Retrier) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialDelay
	b.MaxInterval = r.config.MaxDelay
	b.Multiplier = r.config.Multiplier
	b.MaxElapsedTime = 0
	if r.config.Jitter {
		b.RandomizationFactor = 0.25
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// Error reports a retry run that exhausted its attempts.
type Error struct {
	Err      error
	Attempts int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the final attempt's error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NonRetryableError marks an error that must not be retried.
type NonRetryableError struct {
	err error
}

// NewNonRetryableError wraps err as non-retryable.
func NewNonRetryableError(err error) error {
	return &NonRetryableError{err: err}
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	return e.err.Error()
}

// Unwrap returns the wrapped error.
func (e *NonRetryableError) Unwrap() error {
	return e.err
}

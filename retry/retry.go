// Package retry provides a generic retry helper with exponential backoff and
// jitter. It is completely optional and never installed automatically inside
// the cache or store layers.
package retry

import (
	"context"
	"time"
)

// Config controls the retry behaviour of [Do].
type Config struct {
	// MaxAttempts bounds how many times fn runs, counting the first attempt.
	// Values of 1 or less disable retries.
	MaxAttempts int

	// BaseDelay is the wait before the first retry; each further retry
	// doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the doubled delay.
	MaxDelay time.Duration

	// Jitter randomizes each delay by the given fraction (0.2 means ±20 %).
	// Zero disables jitter.
	Jitter float64

	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries nothing.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// cfg.MaxAttempts, or ctx is cancelled while waiting between attempts.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attempt := 0
	for {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		attempt++
		if attempt >= cfg.MaxAttempts || cfg.Retryable == nil || !cfg.Retryable(err) {
			return zero, err
		}
		if waitErr := wait(ctx, backoff(cfg, attempt-1)); waitErr != nil {
			return zero, waitErr
		}
	}
}

// wait sleeps for d unless ctx is done first.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

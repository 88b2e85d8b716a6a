package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// MaxRetries bounds transient-failure retries per call.
const MaxRetries = 3

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// WithRetry runs fn, retrying transient failures with backoff until it
// succeeds, fails hard, or the context is cancelled.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(attempt - 1)):
			}
		}
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first success or the last error.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return RetryIf(ctx, maxAttempts, baseDelay, fn, func(error) bool { return true })
}

// RetryIf is Retry that stops early when retryable reports false for an
// error. Errors from the venue that describe a rejected request are not worth
// repeating; transport errors are.
func RetryIf(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error, retryable func(error) bool) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return err
}

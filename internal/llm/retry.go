package llm

import (
	"context"
	"time"
)

// retryBaseDelay is the linear-backoff base step: attempt n waits
// n*retryBaseDelay before retrying.
const retryBaseDelay = 500 * time.Millisecond

// Retry calls fn until it succeeds, returns a non-retryable error, or
// maxAttempts is exhausted. Backoff between attempts is linear
// (n*retryBaseDelay) and is cancellable via ctx.
func Retry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * retryBaseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

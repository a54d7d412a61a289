package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sardanioss/primp/transport"
)

// RetryPolicy bounds how often one logical request is attempted.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean 1.
	MaxAttempts int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
}

// RetryExecutor runs an attempt function under a RetryPolicy.
type RetryExecutor struct {
	Policy RetryPolicy
	// Retryable selects the errors worth another attempt.
	// Default: transport.Retryable (connect, timeout, reset, TLS handshake).
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of attempt number next.
	OnRetry func(next int, err error)
}

// Execute calls fn until it succeeds, fails with a non-retryable error or
// the attempt budget runs out. A returned value with a nil error is final,
// whatever it holds, so HTTP error statuses are never retried.
//
// On exhaustion the last error is returned unchanged. If ctx ends during a
// backoff, the last error is returned too, joined with ctx.Err() unless it
// already carries it.
func Execute[T any](ctx context.Context, ex RetryExecutor, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	retryable := ex.Retryable
	if retryable == nil {
		retryable = transport.Retryable
	}
	attempts := max(ex.Policy.MaxAttempts, 1)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if ex.OnRetry != nil {
				ex.OnRetry(attempt, lastErr)
			}
			if ex.Policy.Backoff > 0 {
				timer := time.NewTimer(ex.Policy.Backoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return zero, interrupted(lastErr, ctx.Err())
				case <-timer.C:
				}
			}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// interrupted keeps the transport detail of the last attempt when the
// context ends between attempts.
func interrupted(lastErr, ctxErr error) error {
	switch {
	case lastErr == nil:
		return ctxErr
	case errors.Is(lastErr, ctxErr):
		return lastErr
	}
	return fmt.Errorf("%w after: %w", ctxErr, lastErr)
}

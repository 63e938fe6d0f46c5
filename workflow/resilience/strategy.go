// Package resilience provides retry strategies and a circuit breaker
// for wrapping unreliable operation bodies: fixed-interval retry,
// exponential backoff with jitter, random-interval retry, and a
// state-machine breaker backed by gobreaker.
package resilience

import (
	"context"
	"time"
)

// Strategy retries an operation body according to its policy.
//
// Contract shared by all strategies:
//   - Attempts are 1-based; a strategy with MaxAttempts = N invokes the
//     body at most N times.
//   - The first success returns immediately.
//   - Context cancellation short-circuits any pending wait and returns
//     the context's error.
//   - When all attempts fail, the last error is returned.
type Strategy interface {
	Execute(ctx context.Context, op func(ctx context.Context) error) error
}

// Run executes a value-returning body under a strategy. On failure the
// zero value of T is returned with the strategy's error.
func Run[T any](ctx context.Context, s Strategy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := s.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// sleep waits for d or until ctx is cancelled. A nil override uses a
// real timer; tests inject a recording override.
func sleep(ctx context.Context, d time.Duration, override func(context.Context, time.Duration) error) error {
	if override != nil {
		return override(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable reports whether err should be retried under pred. A nil
// predicate retries everything except context cancellation.
func retryable(err error, pred func(error) bool) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	if pred == nil {
		return true
	}
	return pred(err)
}

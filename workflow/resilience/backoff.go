package resilience

import (
	"context"
	"math/rand"
	"time"
)

// FixedInterval retries with a constant delay between attempts.
type FixedInterval struct {
	// MaxAttempts is the total number of invocations (including the
	// first). Values below 1 are treated as 1.
	MaxAttempts int

	// Interval is the delay between attempts.
	Interval time.Duration

	// Retryable decides whether an error is worth retrying. Nil retries
	// everything except context cancellation.
	Retryable func(error) bool

	// Sleep overrides the wait, for tests. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Execute implements Strategy.
func (f *FixedInterval) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := f.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr, f.Retryable) || attempt == attempts {
			return lastErr
		}

		if err := sleep(ctx, f.Interval, f.Sleep); err != nil {
			return err
		}
	}
	return lastErr
}

// ExponentialBackoff retries with exponentially growing delays plus
// jitter:
//
//	delay = min(BaseDelay * 2^(attempt-1), MaxDelay) + jitter(0, BaseDelay)
//
// The jitter spreads synchronized retries across concurrent callers.
type ExponentialBackoff struct {
	// MaxAttempts is the total number of invocations (including the
	// first). Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay seeds the exponential growth. Must be > 0 for jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. 0 = no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying. Nil retries
	// everything except context cancellation.
	Retryable func(error) bool

	// Rand supplies jitter; nil uses the global source.
	Rand *rand.Rand

	// Sleep overrides the wait, for tests. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Execute implements Strategy.
func (e *ExponentialBackoff) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr, e.Retryable) || attempt == attempts {
			return lastErr
		}

		if err := sleep(ctx, e.delay(attempt), e.Sleep); err != nil {
			return err
		}
	}
	return lastErr
}

// delay computes the wait before the attempt following the given
// 1-based attempt number.
func (e *ExponentialBackoff) delay(attempt int) time.Duration {
	d := e.BaseDelay * (1 << (attempt - 1))
	if e.MaxDelay > 0 && d > e.MaxDelay {
		d = e.MaxDelay
	}

	var jitter time.Duration
	if e.BaseDelay > 0 {
		if e.Rand != nil {
			jitter = time.Duration(e.Rand.Int63n(int64(e.BaseDelay)))
		} else {
			jitter = time.Duration(rand.Int63n(int64(e.BaseDelay))) // #nosec G404 -- retry jitter, not security
		}
	}
	return d + jitter
}

// RandomInterval retries with a uniformly random delay in
// [MinDelay, MaxDelay] between attempts. Useful when many workers hit
// the same dependency and even exponential backoff would synchronize.
type RandomInterval struct {
	// MaxAttempts is the total number of invocations (including the
	// first). Values below 1 are treated as 1.
	MaxAttempts int

	// MinDelay and MaxDelay bound the random wait. MaxDelay below
	// MinDelay is treated as MinDelay (constant delay).
	MinDelay time.Duration
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying. Nil retries
	// everything except context cancellation.
	Retryable func(error) bool

	// Rand supplies the interval; nil uses the global source.
	Rand *rand.Rand

	// Sleep overrides the wait, for tests. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Execute implements Strategy.
func (r *RandomInterval) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr, r.Retryable) || attempt == attempts {
			return lastErr
		}

		if err := sleep(ctx, r.delay(), r.Sleep); err != nil {
			return err
		}
	}
	return lastErr
}

// delay picks a uniform random duration in [MinDelay, MaxDelay].
func (r *RandomInterval) delay() time.Duration {
	lo, hi := r.MinDelay, r.MaxDelay
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	var n int64
	if r.Rand != nil {
		n = r.Rand.Int63n(span + 1)
	} else {
		n = rand.Int63n(span + 1) // #nosec G404 -- retry jitter, not security
	}
	return lo + time.Duration(n)
}

package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts wall-clock and monotonic timing so tests can control
// time. The engine reads time only through a Clock.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// Since returns the elapsed time since t.
	Since(t time.Time) time.Duration

	// Sleep waits for d or until the context is cancelled, whichever
	// comes first. Returns the context error on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Since returns time.Since(t).
func (SystemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Sleep waits using a timer, honoring ctx.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
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

// defaultClock is the process-wide clock used when a component is not
// given one explicitly. Settable at bootstrap via SetDefaultClock;
// per-foundry injection always takes precedence.
var defaultClock atomic.Value

// clockBox gives atomic.Value a single concrete type regardless of the
// Clock implementation stored.
type clockBox struct{ c Clock }

func init() {
	defaultClock.Store(clockBox{SystemClock{}})
}

// DefaultClock returns the process-wide clock.
func DefaultClock() Clock {
	return defaultClock.Load().(clockBox).c
}

// SetDefaultClock replaces the process-wide clock. A nil clock restores
// the system clock. Intended for bootstrap and test mains; running
// components keep the clock they captured at construction.
func SetDefaultClock(c Clock) {
	if c == nil {
		c = SystemClock{}
	}
	defaultClock.Store(clockBox{c})
}

// FakeClock is a manually advanced Clock for tests.
//
// Sleep returns immediately and records the requested duration, so
// retry/backoff tests run without real waiting.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock creates a FakeClock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Since returns the elapsed fake time since t.
func (f *FakeClock) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// Sleep advances the fake time by d and returns immediately, unless
// the context is already cancelled.
func (f *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	return nil
}

// Advance moves the fake time forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Sleeps returns the durations passed to Sleep, in call order.
func (f *FakeClock) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

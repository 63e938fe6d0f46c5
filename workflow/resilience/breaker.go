package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the body: the circuit is open, or half-open and already at
// its probe quota.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StateChange records one breaker transition, delivered to the
// OnStateChange hook.
type StateChange struct {
	// Name identifies the breaker.
	Name string

	// Previous and Current are the breaker states around the transition
	// ("closed", "open", "half-open").
	Previous string
	Current  string

	// Timestamp is when the transition was observed.
	Timestamp time.Time
}

// BreakerSettings configures a CircuitBreaker.
type BreakerSettings struct {
	// Name identifies the breaker in state-change events.
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open. Values below 1 are treated as 5.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open before moving to
	// half-open. 0 uses gobreaker's default (60s).
	OpenTimeout time.Duration

	// HalfOpenProbes is how many trial calls the half-open state admits
	// before deciding. 0 admits one.
	HalfOpenProbes int

	// OnStateChange is invoked synchronously on every transition.
	OnStateChange func(change StateChange)
}

// CircuitBreaker is a Strategy that fails fast while a dependency is
// down instead of hammering it with retries.
//
// Closed passes calls through and counts consecutive failures; at the
// threshold it opens. Open rejects every call with ErrCircuitOpen until
// OpenTimeout elapses, then half-open admits a bounded number of
// probes: success closes the breaker, failure re-opens it.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a breaker over the given settings.
func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	threshold := settings.FailureThreshold
	if threshold < 1 {
		threshold = 5
	}

	st := gobreaker.Settings{
		Name:    settings.Name,
		Timeout: settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
	}
	if settings.HalfOpenProbes > 0 {
		st.MaxRequests = uint32(settings.HalfOpenProbes)
	}
	if hook := settings.OnStateChange; hook != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			hook(StateChange{
				Name:      name,
				Previous:  from.String(),
				Current:   to.String(),
				Timestamp: time.Now(),
			})
		}
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute implements Strategy. The body runs at most once; rejected
// calls return ErrCircuitOpen without invoking it.
func (c *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current breaker state ("closed", "open",
// "half-open").
func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}

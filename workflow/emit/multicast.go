package emit

import (
	"sync"

	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// Multicast fans one event stream out to registered handlers and
// attached emitters.
//
// This is the emitter every foundry carries: callers subscribe handler
// functions for the events they care about, and backends (LogEmitter,
// OTelEmitter) are attached once at setup.
//
// Delivery is synchronous, in registration order. A handler that
// panics is recovered, logged, and discarded for that event; the
// engine treats handlers as fire-and-forget and makes no ordering or
// idempotency assumptions about them.
//
// Multicast is safe for concurrent use.
type Multicast struct {
	mu       sync.RWMutex
	nextID   int
	handlers []subscription
	logger   wflog.Logger
}

type subscription struct {
	id int
	fn func(Event)
}

// NewMulticast creates an empty multicast emitter.
func NewMulticast() *Multicast {
	return &Multicast{logger: wflog.NewNullLogger()}
}

// UseLogger routes recovered handler panics to logger. A nil logger
// discards them.
func (m *Multicast) UseLogger(logger wflog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = wflog.OrNull(logger)
}

// Subscribe registers a handler for all subsequent events.
//
// The returned function removes the handler; calling it more than once
// is harmless.
//
// Example:
//
//	unsubscribe := mc.Subscribe(func(ev emit.Event) {
//	    if ev.Type == emit.WorkflowFailed {
//	        notify(ev.Err)
//	    }
//	})
//	defer unsubscribe()
func (m *Multicast) Subscribe(handler func(Event)) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers = append(m.handlers, subscription{id: id, fn: handler})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.handlers {
			if sub.id == id {
				m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

// Attach registers a backend emitter as a handler.
//
// Equivalent to Subscribe(e.Emit) and returns the same style of
// unsubscribe function.
func (m *Multicast) Attach(e Emitter) (detach func()) {
	if e == nil {
		return func() {}
	}
	return m.Subscribe(e.Emit)
}

// Emit delivers the event to every registered handler in order.
//
// Handler panics are recovered and logged so a misbehaving observer
// cannot abort the workflow run.
func (m *Multicast) Emit(event Event) {
	m.mu.RLock()
	// Copy under lock so handlers may subscribe/unsubscribe reentrantly.
	subs := make([]subscription, len(m.handlers))
	copy(subs, m.handlers)
	logger := wflog.OrNull(m.logger)
	m.mu.RUnlock()

	for _, sub := range subs {
		m.safeInvoke(logger, sub.fn, event)
	}
}

// Len returns the number of registered handlers.
func (m *Multicast) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers)
}

func (m *Multicast) safeInvoke(logger wflog.Logger, fn func(Event), event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("Event handler panicked",
				"EventType", string(event.Type),
				wflog.FieldExecutionID, event.ExecutionID.String(),
				"Recovered", recovered,
			)
		}
	}()
	fn(event)
}

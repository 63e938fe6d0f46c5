package workflow

import (
	"sync"

	"github.com/workflowforge/workflowforge-go/workflow/emit"
)

// TestFoundry is a Foundry for unit tests: a DefaultFoundry that
// records every emitted event so assertions can inspect the exact
// lifecycle of a run.
//
// Example:
//
//	f := workflow.NewTestFoundry(workflow.DefaultOptions())
//	err := smith.Forge(ctx, wf, f)
//	failed := f.EventsOfType(emit.OperationFailed)
//
// Thread-safe; events emitted from concurrent operations (ForEach
// items) are captured in emission order.
type TestFoundry struct {
	*DefaultFoundry

	mu       sync.Mutex
	captured []emit.Event
}

// NewTestFoundry creates a recording foundry with a discarded logger.
// Pass foundry options to override the clock or execution id.
func NewTestFoundry(opts Options, fopts ...FoundryOption) *TestFoundry {
	tf := &TestFoundry{
		DefaultFoundry: NewFoundry(nil, nil, opts, fopts...),
	}
	tf.Events().Subscribe(func(ev emit.Event) {
		tf.mu.Lock()
		defer tf.mu.Unlock()
		tf.captured = append(tf.captured, ev)
	})
	return tf
}

// CapturedEvents returns all recorded events in emission order.
func (tf *TestFoundry) CapturedEvents() []emit.Event {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	out := make([]emit.Event, len(tf.captured))
	copy(out, tf.captured)
	return out
}

// EventsOfType returns the recorded events of one type, in order.
func (tf *TestFoundry) EventsOfType(t emit.EventType) []emit.Event {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	var out []emit.Event
	for _, ev := range tf.captured {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// EventCount returns how many events of the given type were recorded.
func (tf *TestFoundry) EventCount(t emit.EventType) int {
	return len(tf.EventsOfType(t))
}

// LastEvent returns the most recent event and whether any were
// recorded.
func (tf *TestFoundry) LastEvent() (emit.Event, bool) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if len(tf.captured) == 0 {
		return emit.Event{}, false
	}
	return tf.captured[len(tf.captured)-1], true
}

// ClearEvents drops the recorded events without touching foundry state.
func (tf *TestFoundry) ClearEvents() {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.captured = nil
}

// Reset clears foundry state and the recorded events.
func (tf *TestFoundry) Reset() error {
	if err := tf.DefaultFoundry.Reset(); err != nil {
		return err
	}
	tf.ClearEvents()
	return nil
}

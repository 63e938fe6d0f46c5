// Package emit provides the event model and emitters for workflow
// execution observability.
//
// The engine emits a typed Event at every lifecycle transition
// (workflow started/completed/failed/cancelled, operation
// started/completed/failed/skipped, restore and compensation progress).
// Emitters route those events to a backend:
//   - Multicast: in-process handler registration (the foundry's emitter)
//   - LogEmitter: structured log output
//   - OTelEmitter: OpenTelemetry spans
//   - NullEmitter: discard
package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be:
//   - Non-blocking: events are emitted on the engine's goroutine
//   - Thread-safe: concurrent runs emit concurrently
//   - Resilient: an emitter failure must never break execution
//
// Emit must not panic; internal errors should be logged and swallowed.
type Emitter interface {
	// Emit delivers one event to the backend.
	Emit(event Event)
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(event Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(event Event) { f(event) }

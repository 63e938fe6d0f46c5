package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use cases:
//   - Deployments where event handling overhead is unwanted
//   - Tests that do not assert on events
type NullEmitter struct{}

// NewNullEmitter returns an emitter that discards everything.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (*NullEmitter) Emit(Event) {}

// OrNull returns e, or a NullEmitter when e is nil.
func OrNull(e Emitter) Emitter {
	if e == nil {
		return NewNullEmitter()
	}
	return e
}

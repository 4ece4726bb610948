package emit

// NullEmitter discards all events. Use when observability output is not
// wanted; it is safe for concurrent use and has zero overhead.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit implements Emitter as a no-op.
func (n *NullEmitter) Emit(Event) {}

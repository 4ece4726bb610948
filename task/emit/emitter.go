package emit

// Emitter receives observability events from the task runtime.
//
// Implementations must be:
//   - Non-blocking: a slow emitter must not slow a drive loop
//   - Thread-safe: drive loops for many tasks emit concurrently
//   - Resilient: Emit must not panic; internal failures are swallowed
//     or logged, never propagated into task execution
type Emitter interface {
	// Emit delivers one event. Fire-and-forget.
	Emit(event Event)
}

// Flusher is implemented by emitters that buffer events (BufferedEmitter,
// OTelEmitter). The runtime calls Flush when it interprets a
// FlushTelemetryBuffer effect and at shutdown.
type Flusher interface {
	Flush() error
}

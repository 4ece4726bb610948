package emit

import "sync"

// BufferedEmitter captures events in memory, organized by task ID, and
// provides query access for history analysis.
//
// Intended for tests, debugging, and dashboards. Everything stays in memory,
// so long-lived production deployments should prefer LogEmitter or
// OTelEmitter, or clear buffers periodically.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run a task ...
//	history := emitter.History("t-001")
//	failures := emitter.HistoryWithFilter("t-001", emit.HistoryFilter{Msg: emit.MsgTaskFailed})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // taskID -> events in emission order
}

// HistoryFilter selects a subset of a task's events. All fields are
// optional; set fields combine with AND.
type HistoryFilter struct {
	// Msg filters by event name (empty = no filter).
	Msg string

	// State filters by the state the event was emitted in.
	State string

	// MinSeq and MaxSeq bound the dispatch sequence number (nil = unbounded).
	MinSeq *int
	MaxSeq *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.TaskID] = append(b.events[event.TaskID], event)
}

// History returns a copy of all events recorded for the task, in emission
// order.
func (b *BufferedEmitter) History(taskID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[taskID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the task's events matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(taskID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.events[taskID] {
		if filter.Msg != "" && e.Msg != filter.Msg {
			continue
		}
		if filter.State != "" && e.State != filter.State {
			continue
		}
		if filter.MinSeq != nil && e.Seq < *filter.MinSeq {
			continue
		}
		if filter.MaxSeq != nil && e.Seq > *filter.MaxSeq {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Count returns the number of events recorded for the task.
func (b *BufferedEmitter) Count(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events[taskID])
}

// Clear drops all events for the task.
func (b *BufferedEmitter) Clear(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, taskID)
}

// ClearAll drops every recorded event.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}

// Flush implements Flusher. Buffered events stay queryable; Flush exists so
// the runtime's telemetry-flush effect can treat this emitter uniformly with
// exporting emitters.
func (b *BufferedEmitter) Flush() error { return nil }

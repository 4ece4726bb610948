// Package emit provides observability event emission for the task runtime.
package emit

// Runtime event names. The runtime publishes these as Event.Msg; observers
// filter on them. Emission is fire-and-forget and must never block a drive
// loop.
const (
	MsgTaskStarted       = "task-started"
	MsgTaskResumed       = "task-resumed"
	MsgStateChanged      = "state-changed"
	MsgExecutionAttempt  = "execution-attempt"
	MsgCheckpointCreated = "checkpoint-created"
	MsgTaskCompleted     = "task-completed"
	MsgTaskFailed        = "task-failed"
	MsgTaskPaused        = "task-paused"
	MsgTaskCancelled     = "task-cancelled"
	MsgTelemetry         = "telemetry"
)

// Event is one observability event from a task's lifecycle.
//
// Events flow to an Emitter, which can log them, convert them to spans, or
// buffer them for inspection. They are advisory: losing an event never
// affects task state, which lives in checkpoints.
type Event struct {
	// TaskID identifies the task that emitted this event.
	TaskID string

	// Seq is the dispatch sequence number within the task's current run
	// (1-indexed). Zero for run-level events such as task-started.
	Seq int

	// State is the task's state when the event was emitted.
	State string

	// Msg names the event; see the Msg* constants.
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "from", "to": states on a state-changed event
	//   - "event": the lifecycle event kind that caused a transition
	//   - "error": failure detail
	//   - "attempt": retry attempt number
	//   - "duration_ms": elapsed time for the operation
	Meta map[string]interface{}
}

package task

import "errors"

// ErrTaskActive indicates a second drive loop was requested for a task that
// already has one. Transitions for a single task are strictly sequential;
// concurrent Execute/Resume calls for the same task ID fail fast rather than
// interleave.
var ErrTaskActive = errors.New("task already has an active execution")

// ErrTaskNotFound indicates no checkpoint or active execution exists for the
// requested task ID.
var ErrTaskNotFound = errors.New("task not found")

// ErrMaxRetriesExceeded indicates the retry budget was exhausted; the task
// stays in Failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// ErrRuntimeClosed indicates the runtime was shut down and no longer admits
// work.
var ErrRuntimeClosed = errors.New("runtime is closed")

// RuntimeError wraps a task-level failure with a machine-readable code.
//
// Codes in use: "rejected" (illegal transition), "guard_blocked",
// "provider" (fatal provider failure), "persistence" (checkpoint save/load
// failure), "timeout".
type RuntimeError struct {
	Code    string
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the wrapped cause, if any.
func (e *RuntimeError) Unwrap() error { return e.Err }

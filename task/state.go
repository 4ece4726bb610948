// Package task implements the task-lifecycle runtime: a pure state machine
// that governs how a unit of work moves from submission through planning,
// dependency resolution, guarded execution, and terminal completion, plus the
// checkpointed runtime that drives it.
//
// The split mirrors the data flow: Transition is a pure function from
// (state, event, context) to an Outcome describing effects as data; the
// Runtime is the only component that mutates task state, interprets effects,
// calls the completion provider, and persists checkpoints.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/taskrun-go/task/guard"
)

// State is a task lifecycle state.
type State string

// Lifecycle states. Bootstrapping is initial; Completed, Failed, and
// Canceled are soft-terminal: each accepts one re-entry event (RetryTrigger
// or TelemetryFlushed) that restarts the lifecycle.
const (
	StateBootstrapping       State = "Bootstrapping"
	StateIdle                State = "Idle"
	StatePreparing           State = "Preparing"
	StateWaitingOnDependency State = "WaitingOnDependency"
	StateExecuting           State = "Executing"
	StateCompleted           State = "Completed"
	StateFailed              State = "Failed"
	StateCanceled            State = "Canceled"
)

// Terminal reports whether s is a soft-terminal state. Soft-terminal states
// end the normal flow but still accept their designated re-entry event.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// AllStates lists every lifecycle state, in flow order.
func AllStates() []State {
	return []State{
		StateBootstrapping,
		StateIdle,
		StatePreparing,
		StateWaitingOnDependency,
		StateExecuting,
		StateCompleted,
		StateFailed,
		StateCanceled,
	}
}

// EventKind identifies the kind of lifecycle event.
type EventKind string

// Lifecycle events.
const (
	EventTaskSubmitted     EventKind = "TaskSubmitted"
	EventDependenciesReady EventKind = "DependenciesReady"
	EventRuleViolation     EventKind = "RuleViolation"
	EventTimeout           EventKind = "Timeout"
	EventCancelRequest     EventKind = "CancelRequest"
	EventRetryTrigger      EventKind = "RetryTrigger"
	EventTelemetryFlushed  EventKind = "TelemetryFlushed"
)

// AllEventKinds lists every event kind.
func AllEventKinds() []EventKind {
	return []EventKind{
		EventTaskSubmitted,
		EventDependenciesReady,
		EventRuleViolation,
		EventTimeout,
		EventCancelRequest,
		EventRetryTrigger,
		EventTelemetryFlushed,
	}
}

// Event is one dispatched lifecycle event with its kind-specific payload.
// Unused payload fields are zero.
type Event struct {
	Kind EventKind `json:"kind"`

	// TaskID and ManifestVersion accompany TaskSubmitted.
	TaskID          string `json:"taskId,omitempty"`
	ManifestVersion string `json:"manifestVersion,omitempty"`

	// RuleName accompanies RuleViolation.
	RuleName string `json:"ruleName,omitempty"`

	// Timeout accompanies Timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// RequestedBy accompanies CancelRequest.
	RequestedBy string `json:"requestedBy,omitempty"`
}

// Submitted builds a TaskSubmitted event.
func Submitted(taskID, manifestVersion string) Event {
	return Event{Kind: EventTaskSubmitted, TaskID: taskID, ManifestVersion: manifestVersion}
}

// DependenciesReady builds a DependenciesReady event.
func DependenciesReady() Event {
	return Event{Kind: EventDependenciesReady}
}

// RuleViolation builds a RuleViolation event for the named rule.
func RuleViolation(ruleName string) Event {
	return Event{Kind: EventRuleViolation, RuleName: ruleName}
}

// TimeoutEvent builds a Timeout event carrying the elapsed budget.
func TimeoutEvent(d time.Duration) Event {
	return Event{Kind: EventTimeout, Timeout: d}
}

// CancelRequest builds a CancelRequest event attributed to an actor.
func CancelRequest(requestedBy string) Event {
	return Event{Kind: EventCancelRequest, RequestedBy: requestedBy}
}

// RetryTrigger builds a RetryTrigger event.
func RetryTrigger() Event {
	return Event{Kind: EventRetryTrigger}
}

// TelemetryFlushed builds a TelemetryFlushed event.
func TelemetryFlushed() Event {
	return Event{Kind: EventTelemetryFlushed}
}

// Context carries the mutable decision inputs the transition function reads.
//
// Context is read-only inside Transition; only the Runtime mutates it, and
// only between dispatches.
type Context struct {
	// DependenciesReady reports whether all declared dependencies are ready.
	DependenciesReady bool `json:"dependenciesReady"`

	// GuardVerdict is the most recent guard evaluation result. Defaults to
	// Pass: an unevaluated guard never blocks.
	GuardVerdict guard.Verdict `json:"guardVerdict"`

	// TelemetryPending reports whether buffered telemetry remains unflushed.
	TelemetryPending bool `json:"telemetryPending"`

	// CancellationRequested is set by the Runtime when a cancel has been
	// acknowledged for this task.
	CancellationRequested bool `json:"cancellationRequested"`

	// Metadata is the open key-value bag for task-specific data: manifest
	// id, retry count, provider response digest.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewContext returns a Context with defaults: dependencies not ready, guard
// verdict Pass, no pending telemetry, no cancellation.
func NewContext() Context {
	return Context{
		GuardVerdict: guard.Pass(),
		Metadata:     make(map[string]string),
	}
}

// Clone returns a deep copy. The Runtime snapshots context this way before
// handing it to checkpoints or observers.
func (c Context) Clone() Context {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Meta returns the metadata value for key, or "" when absent.
func (c Context) Meta(key string) string {
	return c.Metadata[key]
}

// Marshal serializes the context for checkpointing.
func (c Context) Marshal() (json.RawMessage, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	return b, nil
}

// UnmarshalContext restores a context from a checkpoint snapshot.
func UnmarshalContext(data json.RawMessage) (Context, error) {
	c := NewContext()
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Context{}, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	return c, nil
}

// HistoryEntry records one applied transition in a task's append-only
// history.
type HistoryEntry struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Event     EventKind `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the unit of work. Owned exclusively by the Runtime.
type Task struct {
	ID        string         `json:"taskId"`
	AgentName string         `json:"agentName"`
	State     State          `json:"state"`
	Context   Context        `json:"context"`
	History   []HistoryEntry `json:"history"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

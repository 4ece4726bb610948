package task

// OutcomeStatus classifies the result of one transition attempt.
type OutcomeStatus string

const (
	// StatusTransitioned means the event was accepted and the state (or an
	// explicitly allowed self-loop) advanced.
	StatusTransitioned OutcomeStatus = "Transitioned"

	// StatusRejected means the event is illegal for the current state or a
	// guard blocked it. Rejections carry no effects.
	StatusRejected OutcomeStatus = "Rejected"

	// StatusDeferred means the event was recognized but cannot apply yet,
	// typically because dependencies are not ready. The task stays in place.
	StatusDeferred OutcomeStatus = "Deferred"
)

// EffectKind identifies a side-effect instruction emitted by a transition.
//
// Effects are data, not closures. The Runtime interprets them; the state
// machine stays pure and testable without mocks.
type EffectKind string

const (
	// EffectHydratePlan loads the task's execution plan into context.
	EffectHydratePlan EffectKind = "HydratePlan"

	// EffectEvaluateGuards runs the configured guard chain before execution.
	EffectEvaluateGuards EffectKind = "EvaluateGuards"

	// EffectStartExecution invokes the completion provider for the task.
	EffectStartExecution EffectKind = "StartExecution"

	// EffectEmitTelemetry emits a labeled telemetry event.
	EffectEmitTelemetry EffectKind = "EmitTelemetry"

	// EffectScheduleRetry schedules a backoff-delayed retry dispatch.
	EffectScheduleRetry EffectKind = "ScheduleRetry"

	// EffectPerformRollback undoes partial work after a failure.
	EffectPerformRollback EffectKind = "PerformRollback"

	// EffectRecordCancellation records who canceled the task.
	EffectRecordCancellation EffectKind = "RecordCancellation"

	// EffectFlushTelemetryBuffer drains buffered telemetry.
	EffectFlushTelemetryBuffer EffectKind = "FlushTelemetryBuffer"
)

// Effect is one side-effect instruction. Arg carries the kind-specific
// argument: the task ID for HydratePlan/StartExecution, the label for
// EmitTelemetry, the reason for PerformRollback, the actor for
// RecordCancellation. Empty for the rest.
type Effect struct {
	Kind EffectKind `json:"kind"`
	Arg  string     `json:"arg,omitempty"`
}

// HydratePlan builds a HydratePlan effect for the task.
func HydratePlan(taskID string) Effect {
	return Effect{Kind: EffectHydratePlan, Arg: taskID}
}

// EvaluateGuards builds an EvaluateGuards effect.
func EvaluateGuards() Effect {
	return Effect{Kind: EffectEvaluateGuards}
}

// StartExecution builds a StartExecution effect for the task.
func StartExecution(taskID string) Effect {
	return Effect{Kind: EffectStartExecution, Arg: taskID}
}

// EmitTelemetry builds a labeled EmitTelemetry effect.
func EmitTelemetry(label string) Effect {
	return Effect{Kind: EffectEmitTelemetry, Arg: label}
}

// ScheduleRetry builds a ScheduleRetry effect.
func ScheduleRetry() Effect {
	return Effect{Kind: EffectScheduleRetry}
}

// PerformRollback builds a PerformRollback effect with the failure reason.
func PerformRollback(reason string) Effect {
	return Effect{Kind: EffectPerformRollback, Arg: reason}
}

// RecordCancellation builds a RecordCancellation effect for the actor.
func RecordCancellation(actor string) Effect {
	return Effect{Kind: EffectRecordCancellation, Arg: actor}
}

// FlushTelemetryBuffer builds a FlushTelemetryBuffer effect.
func FlushTelemetryBuffer() Effect {
	return Effect{Kind: EffectFlushTelemetryBuffer}
}

// Outcome is the result of one transition attempt.
//
// Invariants:
//   - StatusTransitioned implies ToState != FromState, or an explicitly
//     allowed self-loop with an empty or telemetry-only effect list.
//   - StatusRejected implies empty Effects and a non-empty Reason.
//   - StatusDeferred implies ToState == FromState and a non-empty Reason.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	FromState State         `json:"fromState"`
	ToState   State         `json:"toState"`
	Event     EventKind     `json:"event"`
	Effects   []Effect      `json:"effects,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Transitioned reports whether the transition was accepted.
func (o Outcome) Transitioned() bool { return o.Status == StatusTransitioned }

// Rejected reports whether the transition was rejected.
func (o Outcome) Rejected() bool { return o.Status == StatusRejected }

// Deferred reports whether the transition was deferred.
func (o Outcome) Deferred() bool { return o.Status == StatusDeferred }

// HasEffect reports whether the outcome carries an effect of the given kind.
func (o Outcome) HasEffect(kind EffectKind) bool {
	for _, e := range o.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

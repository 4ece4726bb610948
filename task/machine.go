package task

import "fmt"

// Metadata keys the runtime and transition function agree on.
const (
	// MetaDeferPark, when "true", routes a deferred Preparing dispatch into
	// WaitingOnDependency instead of deferring in place.
	MetaDeferPark = "defer.park"

	// MetaRetryCount holds the task's retry counter as a decimal string.
	MetaRetryCount = "retry.count"

	// MetaManifestVersion holds the manifest version from submission.
	MetaManifestVersion = "manifest.version"

	// MetaResponseDigest holds the sha256 digest of the last provider
	// transcript.
	MetaResponseDigest = "response.digest"

	// MetaCancelActor records who requested cancellation.
	MetaCancelActor = "cancel.actor"
)

// Telemetry labels attached to EmitTelemetry effects.
const (
	telemetryBootstrapped = "bootstrapped"
	telemetrySubmitted    = "submitted"
	telemetryDeferred     = "deferred"
	telemetryWaiting      = "waiting"
	telemetryDepsReady    = "dependencies-ready"
	telemetryReset        = "lifecycle-reset"
)

// Transition is the pure lifecycle transition function.
//
// It is deterministic and side-effect free: for a given (state, event,
// context) it always returns the same Outcome, and it never mutates the
// context. Side effects are returned as data for the Runtime to interpret.
//
// Events not accepted by the current state are Rejected with a deterministic,
// state-specific reason; these strings are part of the contract and asserted
// on in tests.
func Transition(state State, ev Event, c Context) Outcome {
	switch state {
	case StateBootstrapping:
		return transitionBootstrapping(state, ev)
	case StateIdle:
		return transitionIdle(state, ev)
	case StatePreparing:
		return transitionPreparing(state, ev, c)
	case StateWaitingOnDependency:
		return transitionWaiting(state, ev, c)
	case StateExecuting:
		return transitionExecuting(state, ev, c)
	case StateCompleted:
		return transitionCompleted(state, ev)
	case StateFailed:
		return transitionFailed(state, ev)
	case StateCanceled:
		return transitionCanceled(state, ev)
	default:
		return reject(state, ev, fmt.Sprintf("is not a recognized state for %s events", ev.Kind))
	}
}

func transitionBootstrapping(state State, ev Event) Outcome {
	if ev.Kind == EventDependenciesReady {
		return accept(state, StateIdle, ev, EmitTelemetry(telemetryBootstrapped))
	}
	return rejectUnsupported(state, ev)
}

func transitionIdle(state State, ev Event) Outcome {
	if ev.Kind == EventTaskSubmitted {
		return accept(state, StatePreparing, ev,
			HydratePlan(ev.TaskID),
			EmitTelemetry(telemetrySubmitted),
		)
	}
	return rejectUnsupported(state, ev)
}

func transitionPreparing(state State, ev Event, c Context) Outcome {
	switch ev.Kind {
	case EventDependenciesReady:
		// Guard verdict takes precedence over dependency readiness: a
		// failing guard rejects the transition even when dependencies are
		// ready.
		if c.GuardVerdict.IsFail() {
			return Outcome{
				Status:    StatusRejected,
				FromState: state,
				ToState:   state,
				Event:     ev.Kind,
				Reason:    "guard blocked transition: " + c.GuardVerdict.Reason,
			}
		}
		if c.GuardVerdict.IsDefer() {
			return deferInPlace(state, ev, c.GuardVerdict.Reason)
		}
		if !c.DependenciesReady {
			if c.Meta(MetaDeferPark) == "true" {
				return accept(state, StateWaitingOnDependency, ev, EmitTelemetry(telemetryWaiting))
			}
			return deferInPlace(state, ev, "dependencies not ready")
		}
		return accept(state, StateExecuting, ev,
			EvaluateGuards(),
			StartExecution(ev.TaskID),
		)
	case EventCancelRequest:
		if !c.CancellationRequested {
			return reject(state, ev, "requires an acknowledged cancellation request")
		}
		return accept(state, StateCanceled, ev, RecordCancellation(ev.RequestedBy))
	case EventTimeout:
		return accept(state, StateFailed, ev, PerformRollback(timeoutReason(ev)))
	}
	return rejectUnsupported(state, ev)
}

func transitionWaiting(state State, ev Event, c Context) Outcome {
	switch ev.Kind {
	case EventDependenciesReady:
		if !c.DependenciesReady {
			return deferInPlace(state, ev, "dependencies not ready")
		}
		return accept(state, StatePreparing, ev, EmitTelemetry(telemetryDepsReady))
	case EventRetryTrigger:
		return accept(state, StatePreparing, ev, ScheduleRetry())
	case EventCancelRequest:
		return accept(state, StateCanceled, ev, RecordCancellation(ev.RequestedBy))
	case EventTimeout:
		return accept(state, StateFailed, ev, PerformRollback(timeoutReason(ev)))
	}
	return rejectUnsupported(state, ev)
}

func transitionExecuting(state State, ev Event, c Context) Outcome {
	switch ev.Kind {
	case EventTelemetryFlushed:
		if c.TelemetryPending {
			// Allowed self-loop: stay in Executing while telemetry drains.
			return accept(state, StateExecuting, ev, FlushTelemetryBuffer())
		}
		return accept(state, StateCompleted, ev, FlushTelemetryBuffer())
	case EventRuleViolation:
		return accept(state, StateFailed, ev, PerformRollback("rule violation: "+ev.RuleName))
	case EventTimeout:
		return accept(state, StateFailed, ev, PerformRollback(timeoutReason(ev)))
	case EventCancelRequest:
		return accept(state, StateCanceled, ev,
			RecordCancellation(ev.RequestedBy),
			PerformRollback("canceled by "+ev.RequestedBy),
		)
	}
	return rejectUnsupported(state, ev)
}

func transitionCompleted(state State, ev Event) Outcome {
	if ev.Kind == EventTelemetryFlushed {
		return accept(state, StateIdle, ev, EmitTelemetry(telemetryReset))
	}
	return rejectUnsupported(state, ev)
}

func transitionFailed(state State, ev Event) Outcome {
	if ev.Kind == EventRetryTrigger {
		return accept(state, StatePreparing, ev, ScheduleRetry())
	}
	return rejectUnsupported(state, ev)
}

func transitionCanceled(state State, ev Event) Outcome {
	if ev.Kind == EventRetryTrigger {
		return accept(state, StateIdle, ev, EmitTelemetry(telemetryReset))
	}
	return rejectUnsupported(state, ev)
}

func accept(from, to State, ev Event, effects ...Effect) Outcome {
	return Outcome{
		Status:    StatusTransitioned,
		FromState: from,
		ToState:   to,
		Event:     ev.Kind,
		Effects:   effects,
	}
}

func deferInPlace(state State, ev Event, reason string) Outcome {
	return Outcome{
		Status:    StatusDeferred,
		FromState: state,
		ToState:   state,
		Event:     ev.Kind,
		Effects:   []Effect{EmitTelemetry(telemetryDeferred)},
		Reason:    reason,
	}
}

func reject(state State, ev Event, clause string) Outcome {
	return Outcome{
		Status:    StatusRejected,
		FromState: state,
		ToState:   state,
		Event:     ev.Kind,
		Reason:    fmt.Sprintf("%s state %s.", state, clause),
	}
}

func rejectUnsupported(state State, ev Event) Outcome {
	return reject(state, ev, fmt.Sprintf("does not accept %s events", ev.Kind))
}

func timeoutReason(ev Event) string {
	if ev.Timeout > 0 {
		return fmt.Sprintf("timeout after %s", ev.Timeout)
	}
	return "timeout"
}

package task

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dshills/taskrun-go/task/emit"
	"github.com/dshills/taskrun-go/task/guard"
	"github.com/dshills/taskrun-go/task/provider"
)

// drive is the per-task control loop. It repeatedly dispatches events into
// the transition function until the task reaches a terminal state, pauses,
// or hits a hard error. The loop is iterative, never recursive, so cyclic
// retry paths (Failed -> Preparing -> ... -> Failed) cannot grow the stack.
//
// Suspension points are the provider call, retry backoff, and dependency
// polling; the loop never sleeps while holding the runtime lock.
func (r *Runtime) drive(ctx context.Context, exec *execution) (*TaskResult, error) {
	var hardErr error

loop:
	for {
		// Pause is observed at the transition boundary; the last checkpoint
		// stays valid as the resume point.
		if exec.isPaused() {
			r.emitTask(exec, emit.MsgTaskPaused, nil)
			break
		}
		if err := ctx.Err(); err != nil {
			hardErr = err
			break
		}

		// A pending cancel is applied before any other dispatch.
		if actor, asked := exec.cancelRequested(); asked && exec.task.State != StateCanceled {
			exec.task.Context.CancellationRequested = true
			out, err := r.dispatch(ctx, exec, CancelRequest(actor))
			if err != nil {
				hardErr = err
				break
			}
			if out.Transitioned() {
				continue
			}
			// Cancel does not apply in this state (e.g. already Failed);
			// drop the request and let the loop run to its natural end.
			exec.mu.Lock()
			exec.cancelAsked = false
			exec.mu.Unlock()
		}

		// The runtime owns the task timer; expiry is dispatched like any
		// other event at the boundary, never preemptively.
		if r.timedOut(exec) {
			exec.lastRetryable = false
			exec.failedThisRun = true
			if _, err := r.dispatch(ctx, exec, TimeoutEvent(r.taskTimeout)); err != nil {
				hardErr = err
				break
			}
			continue
		}

		switch exec.task.State {
		case StateBootstrapping:
			if _, err := r.dispatch(ctx, exec, DependenciesReady()); err != nil {
				hardErr = err
				break loop
			}

		case StateIdle:
			if exec.submitted {
				// A lifecycle reset landed back in Idle; this run is done.
				break loop
			}
			exec.submitted = true
			ev := Submitted(exec.task.ID, exec.req.ManifestVersion)
			if _, err := r.dispatch(ctx, exec, ev); err != nil {
				hardErr = err
				break loop
			}

		case StatePreparing:
			exec.task.Context.DependenciesReady = r.depsReady(exec)
			// Guards run once on entry, then again only while the guard
			// chain itself deferred. A task deferred on dependency readiness
			// keeps its recorded verdict, so poll ticks cannot drain
			// stateful guards (rate limits) while it is only waiting.
			if !exec.guardsChecked || exec.task.Context.GuardVerdict.IsDefer() {
				exec.task.Context.GuardVerdict = r.evalGuards(ctx, exec)
				exec.guardsChecked = true
			}

			out, err := r.dispatch(ctx, exec, DependenciesReady())
			if err != nil {
				hardErr = err
				break loop
			}
			if out.Rejected() {
				exec.failReason = out.Reason
				break loop
			}
			if out.Deferred() {
				if err := r.sleep(ctx, r.deferPoll); err != nil {
					hardErr = err
					break loop
				}
			}

		case StateWaitingOnDependency:
			exec.task.Context.DependenciesReady = r.depsReady(exec)
			if !exec.task.Context.DependenciesReady {
				if err := r.sleep(ctx, r.deferPoll); err != nil {
					hardErr = err
					break loop
				}
				continue
			}
			if _, err := r.dispatch(ctx, exec, DependenciesReady()); err != nil {
				hardErr = err
				break loop
			}

		case StateExecuting:
			// The provider call normally happens inside the StartExecution
			// effect; a task resumed directly into Executing re-runs it
			// here.
			if !exec.providerDone {
				r.callProvider(ctx, exec)
			}
			if exec.providerErr != nil {
				exec.lastRetryable = provider.IsRetryable(exec.providerErr)
				exec.failedThisRun = true
				code := "provider-failure"
				var pe *provider.ProviderError
				if e, ok := exec.providerErr.(*provider.ProviderError); ok {
					pe = e
					code = pe.Code
				}
				if _, err := r.dispatch(ctx, exec, RuleViolation(code)); err != nil {
					hardErr = err
					break loop
				}
				continue
			}
			if _, err := r.dispatch(ctx, exec, TelemetryFlushed()); err != nil {
				hardErr = err
				break loop
			}

		case StateCompleted:
			r.emitTask(exec, emit.MsgTaskCompleted, nil)
			break loop

		case StateFailed:
			retryable := exec.lastRetryable
			if !exec.failedThisRun {
				// Resumed into Failed: treat the resume as an operator
				// retry request.
				retryable = true
			}
			if retryable && exec.retries < r.policy.MaxRetries {
				exec.failedThisRun = false
				exec.providerDone = false
				exec.providerErr = nil
				// Each retry pass re-enters Preparing and gets a fresh guard
				// evaluation.
				exec.guardsChecked = false
				if _, err := r.dispatch(ctx, exec, RetryTrigger()); err != nil {
					hardErr = err
					break loop
				}
				continue
			}
			if retryable {
				exec.lastRetryable = true
				exec.failReason = fmt.Sprintf("max retries exceeded after %d attempts", exec.retries)
			}
			r.emitTask(exec, emit.MsgTaskFailed, map[string]interface{}{"reason": exec.failReason})
			break loop

		case StateCanceled:
			r.emitTask(exec, emit.MsgTaskCancelled, map[string]interface{}{
				"requestedBy": exec.task.Context.Meta(MetaCancelActor),
			})
			break loop

		default:
			hardErr = fmt.Errorf("unknown state %q", exec.task.State)
			break loop
		}
	}

	duration := r.release(exec)
	result := &TaskResult{
		TaskID:      exec.task.ID,
		AgentName:   exec.task.AgentName,
		FinalState:  exec.task.State,
		Response:    exec.providerResp,
		Paused:      exec.isPaused(),
		Checkpoints: exec.trail,
		History:     exec.task.History,
		Retries:     exec.retries,
		Duration:    duration,
	}
	result.Err = r.taskError(exec, hardErr)
	return result, hardErr
}

// taskError derives the user-visible task failure for the result.
func (r *Runtime) taskError(exec *execution, hardErr error) error {
	if hardErr != nil {
		return hardErr
	}
	if exec.isPaused() {
		return nil
	}
	switch exec.task.State {
	case StateFailed:
		if exec.lastRetryable && exec.retries >= r.policy.MaxRetries {
			return fmt.Errorf("%w: %s", ErrMaxRetriesExceeded, exec.failReason)
		}
		if exec.providerErr != nil {
			return &RuntimeError{Code: "provider", Message: exec.providerErr.Error(), Err: exec.providerErr}
		}
		return &RuntimeError{Code: "timeout", Message: exec.failReason}
	case StatePreparing:
		if exec.failReason != "" {
			return &RuntimeError{Code: "guard_blocked", Message: exec.failReason}
		}
	}
	return nil
}

// dispatch runs one event through the transition function and, when the
// transition is accepted, applies it: state update, history append,
// checkpoint write, then effects. A checkpoint failure aborts before effects
// run so no side effect outlives an unpersisted state.
func (r *Runtime) dispatch(ctx context.Context, exec *execution, ev Event) (Outcome, error) {
	out := Transition(exec.task.State, ev, exec.task.Context)
	r.metrics.Transition(out)

	switch out.Status {
	case StatusRejected:
		r.emitTask(exec, emit.MsgTelemetry, map[string]interface{}{
			"label":  "dispatch-rejected",
			"event":  string(ev.Kind),
			"reason": out.Reason,
		})
		return out, nil

	case StatusDeferred:
		if err := r.applyEffects(ctx, exec, out); err != nil {
			return out, err
		}
		return out, nil
	}

	from := exec.task.State
	now := r.now()
	// State is read concurrently by Status and ActiveExecutions.
	exec.mu.Lock()
	exec.task.State = out.ToState
	exec.task.UpdatedAt = now
	exec.mu.Unlock()
	exec.task.History = append(exec.task.History, HistoryEntry{
		From:      from,
		To:        out.ToState,
		Event:     ev.Kind,
		Timestamp: now,
	})

	r.emitTask(exec, emit.MsgStateChanged, map[string]interface{}{
		"from":  string(from),
		"to":    string(out.ToState),
		"event": string(ev.Kind),
	})

	if err := r.saveCheckpoint(ctx, exec); err != nil {
		return out, err
	}
	if err := r.applyEffects(ctx, exec, out); err != nil {
		return out, err
	}
	return out, nil
}

// applyEffects interprets the outcome's effect list in order. Effects mutate
// context only here, between dispatches, never inside the transition
// function.
func (r *Runtime) applyEffects(ctx context.Context, exec *execution, out Outcome) error {
	for _, ef := range out.Effects {
		switch ef.Kind {
		case EffectHydratePlan:
			exec.task.Context.Metadata["plan.hydrated"] = "true"

		case EffectEvaluateGuards:
			r.emitTask(exec, emit.MsgTelemetry, map[string]interface{}{
				"label":   "guard-verdict",
				"verdict": exec.task.Context.GuardVerdict.Code.String(),
			})

		case EffectStartExecution:
			r.callProvider(ctx, exec)

		case EffectEmitTelemetry:
			r.emitTask(exec, emit.MsgTelemetry, map[string]interface{}{"label": ef.Arg})

		case EffectScheduleRetry:
			attempt := exec.retries
			exec.retries++
			exec.task.Context.Metadata[MetaRetryCount] = strconv.Itoa(exec.retries)
			r.metrics.Retry(exec.task.AgentName)
			delay := r.backoff(attempt)
			r.emitTask(exec, emit.MsgTelemetry, map[string]interface{}{
				"label":   "retry-scheduled",
				"attempt": exec.retries,
				"delayMs": delay.Milliseconds(),
			})
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}

		case EffectPerformRollback:
			exec.task.Context.Metadata["rollback.reason"] = ef.Arg
			if exec.failReason == "" {
				exec.failReason = ef.Arg
			}
			r.emitTask(exec, emit.MsgTelemetry, map[string]interface{}{
				"label":  "rollback",
				"reason": ef.Arg,
			})

		case EffectRecordCancellation:
			if ef.Arg != "" {
				exec.task.Context.Metadata[MetaCancelActor] = ef.Arg
			}

		case EffectFlushTelemetryBuffer:
			exec.task.Context.TelemetryPending = false
			if f, ok := r.emitter.(emit.Flusher); ok {
				_ = f.Flush()
			}
		}
	}
	return nil
}

// callProvider performs the completion call for the task. While the call is
// in flight, interval checkpoints keep the Executing state resumable.
func (r *Runtime) callProvider(ctx context.Context, exec *execution) {
	exec.providerDone = true

	r.emitTask(exec, emit.MsgExecutionAttempt, map[string]interface{}{
		"provider": exec.prov.Name(),
		"attempt":  exec.retries + 1,
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	if r.checkpointInterval > 0 {
		go func() {
			defer close(done)
			ticker := time.NewTicker(r.checkpointInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					// Interval checkpoints are best-effort; only
					// transition checkpoints abort the loop.
					_ = r.saveCheckpoint(ctx, exec)
				}
			}
		}()
	} else {
		close(done)
	}

	start := r.now()
	resp, err := exec.prov.Complete(ctx, provider.Request{
		TaskID:    exec.task.ID,
		Prompt:    exec.req.Prompt,
		System:    exec.req.System,
		Model:     exec.req.Model,
		MaxTokens: exec.req.MaxTokens,
		Metadata:  exec.task.Context.Metadata,
	})
	close(stop)
	<-done

	r.metrics.ProviderCall(exec.prov.Name(), r.now().Sub(start), err)

	if err != nil {
		exec.providerErr = err
		return
	}
	exec.providerResp = &resp
	exec.providerErr = nil
	exec.task.Context.TelemetryPending = false
	if resp.Digest != "" {
		exec.task.Context.Metadata[MetaResponseDigest] = resp.Digest
	}
}

// evalGuards runs the configured guard chain with AND semantics and returns
// the aggregate verdict. No guards configured means Pass.
func (r *Runtime) evalGuards(ctx context.Context, exec *execution) guard.Verdict {
	if len(r.guards) == 0 {
		return guard.Pass()
	}
	in := guard.Input{
		State:     string(exec.task.State),
		Event:     string(EventDependenciesReady),
		Actor:     exec.task.AgentName,
		Metadata:  exec.task.Context.Metadata,
		Payload:   exec.req.Payload,
		Readiness: r.readiness,
	}
	verdict, _ := guard.EvaluateAll(ctx, in, r.guards)
	return verdict
}

// depsReady reports whether every declared dependency is ready. Tasks
// without dependencies are ready immediately; tasks with dependencies but no
// readiness source never are.
func (r *Runtime) depsReady(exec *execution) bool {
	if len(exec.req.Dependencies) == 0 {
		return true
	}
	if r.readiness == nil {
		return false
	}
	for _, dep := range exec.req.Dependencies {
		if !r.readiness.Ready(dep) {
			return false
		}
	}
	return true
}

// timedOut reports whether the task's wall-clock budget has elapsed while it
// is still in an active state.
func (r *Runtime) timedOut(exec *execution) bool {
	if exec.deadline.IsZero() {
		return false
	}
	switch exec.task.State {
	case StatePreparing, StateWaitingOnDependency, StateExecuting:
		return r.now().After(exec.deadline)
	}
	return false
}

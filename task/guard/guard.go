// Package guard provides the guard evaluation engine for TaskRun-Go.
//
// Guards are predicates that gate risky state transitions. Each guard
// evaluates an Input (the decision context for one dispatch) and returns a
// tri-state Verdict: Pass, Fail, or Defer. Guards compose via And, Or, and
// Not, and a batch evaluator reports which guard decided the aggregate
// outcome.
//
// Guards must be side-effect free with one documented exception: the
// rate-limit guard keeps rolling counters and is safe for concurrent use.
package guard

import "context"

// Code is the discriminant of a Verdict.
type Code int

const (
	// CodePass allows the transition.
	CodePass Code = iota

	// CodeFail blocks the transition. A Fail is a policy violation and is
	// not retried automatically.
	CodeFail

	// CodeDefer postpones the transition. A Defer is an expected,
	// recoverable condition (e.g. dependency not ready) and may be
	// re-evaluated later.
	CodeDefer
)

// String returns the verdict code name for diagnostics.
func (c Code) String() string {
	switch c {
	case CodePass:
		return "pass"
	case CodeFail:
		return "fail"
	case CodeDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// Verdict is the tri-state result of evaluating a guard.
//
// A zero Verdict is Pass; Fail and Defer carry a human-readable reason that
// surfaces in transition rejection messages, so keep reasons deterministic.
type Verdict struct {
	Code   Code   `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// Pass returns a passing verdict.
func Pass() Verdict {
	return Verdict{Code: CodePass}
}

// Fail returns a failing verdict with the given reason.
func Fail(reason string) Verdict {
	return Verdict{Code: CodeFail, Reason: reason}
}

// Defer returns a deferring verdict with the given reason.
func Defer(reason string) Verdict {
	return Verdict{Code: CodeDefer, Reason: reason}
}

// IsPass reports whether the verdict allows the transition.
func (v Verdict) IsPass() bool { return v.Code == CodePass }

// IsFail reports whether the verdict blocks the transition.
func (v Verdict) IsFail() bool { return v.Code == CodeFail }

// IsDefer reports whether the verdict postpones the transition.
func (v Verdict) IsDefer() bool { return v.Code == CodeDefer }

// ReadinessSource answers whether a named dependency is ready. The runtime
// supplies an implementation when it evaluates dependency-check guards; tests
// typically use ReadyFunc.
type ReadinessSource interface {
	Ready(dependency string) bool
}

// ReadyFunc adapts a plain function to a ReadinessSource.
type ReadyFunc func(dependency string) bool

// Ready implements ReadinessSource.
func (f ReadyFunc) Ready(dependency string) bool { return f(dependency) }

// Input is the evaluation context handed to every guard.
//
// It is a read-only view assembled by the runtime before dispatch. Guards
// must not mutate Metadata or Payload.
type Input struct {
	// State is the task's current state name (e.g. "Preparing").
	State string

	// Event is the kind of the triggering event (e.g. "DependenciesReady").
	Event string

	// Actor identifies who initiated the dispatch. Used as the default
	// rate-limit key.
	Actor string

	// Metadata is the task's open metadata bag.
	Metadata map[string]string

	// Payload is an optional JSON document validated by schema guards.
	Payload []byte

	// Readiness reports dependency readiness for dependency-check guards.
	// May be nil, in which case all dependencies are treated as unready.
	Readiness ReadinessSource
}

// Guard is a predicate gating a state transition.
//
// Evaluate must be deterministic for a given Input except for explicitly
// stateful guards (rate limiting). Implementations must be safe for
// concurrent use: the runtime evaluates guards from many drive loops.
type Guard interface {
	// Name identifies the guard in diagnostics and failure reasons.
	Name() string

	// Evaluate returns the guard's verdict for the given input.
	Evaluate(ctx context.Context, in Input) Verdict
}

// GuardFunc adapts a plain function to a Guard.
type GuardFunc struct {
	GuardName string
	Fn        func(ctx context.Context, in Input) Verdict
}

// Name implements Guard.
func (g GuardFunc) Name() string { return g.GuardName }

// Evaluate implements Guard.
func (g GuardFunc) Evaluate(ctx context.Context, in Input) Verdict {
	return g.Fn(ctx, in)
}

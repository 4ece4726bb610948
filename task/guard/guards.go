package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// StateGuard passes only when the current state is in an allowed set.
//
// Example:
//
//	g := guard.NewStateGuard("active-only", "Preparing", "Executing")
//	v := g.Evaluate(ctx, guard.Input{State: "Idle"})
//	// v.IsFail() == true
type StateGuard struct {
	name    string
	allowed map[string]bool
}

// NewStateGuard creates a state-based guard allowing the listed states.
func NewStateGuard(name string, states ...string) *StateGuard {
	allowed := make(map[string]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	return &StateGuard{name: name, allowed: allowed}
}

// Name implements Guard.
func (g *StateGuard) Name() string { return g.name }

// Evaluate implements Guard.
func (g *StateGuard) Evaluate(_ context.Context, in Input) Verdict {
	if g.allowed[in.State] {
		return Pass()
	}
	return Fail(fmt.Sprintf("state %q is not permitted by guard %q", in.State, g.name))
}

// EventGuard passes only when the triggering event's kind is in an allowed set.
type EventGuard struct {
	name    string
	allowed map[string]bool
}

// NewEventGuard creates an event-based guard allowing the listed event kinds.
func NewEventGuard(name string, events ...string) *EventGuard {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	return &EventGuard{name: name, allowed: allowed}
}

// Name implements Guard.
func (g *EventGuard) Name() string { return g.name }

// Evaluate implements Guard.
func (g *EventGuard) Evaluate(_ context.Context, in Input) Verdict {
	if g.allowed[in.Event] {
		return Pass()
	}
	return Fail(fmt.Sprintf("event %q is not permitted by guard %q", in.Event, g.name))
}

// DependencyGuard defers until all named dependencies are ready.
//
// Dependency-not-ready is a retryable condition, not an error, so an unready
// dependency yields Defer rather than Fail. The readiness source comes from
// the Input; a nil source means nothing is ready yet.
type DependencyGuard struct {
	name         string
	dependencies []string
}

// NewDependencyGuard creates a dependency-check guard for the named
// dependencies. The dependency list is copied.
func NewDependencyGuard(name string, dependencies ...string) *DependencyGuard {
	deps := make([]string, len(dependencies))
	copy(deps, dependencies)
	return &DependencyGuard{name: name, dependencies: deps}
}

// Name implements Guard.
func (g *DependencyGuard) Name() string { return g.name }

// Evaluate implements Guard.
//
// Returns Defer naming the first unready dependency in declaration order so
// the reason is deterministic across evaluations.
func (g *DependencyGuard) Evaluate(_ context.Context, in Input) Verdict {
	for _, dep := range g.dependencies {
		if in.Readiness == nil || !in.Readiness.Ready(dep) {
			return Defer(fmt.Sprintf("dependency %q is not ready", dep))
		}
	}
	return Pass()
}

// MetadataGuard passes only when all required metadata keys are present and
// non-empty. The Fail reason lists every missing key, sorted, so callers can
// fix all of them in one pass.
type MetadataGuard struct {
	name string
	keys []string
}

// NewMetadataGuard creates a metadata-field guard requiring the listed keys.
func NewMetadataGuard(name string, keys ...string) *MetadataGuard {
	required := make([]string, len(keys))
	copy(required, keys)
	return &MetadataGuard{name: name, keys: required}
}

// Name implements Guard.
func (g *MetadataGuard) Name() string { return g.name }

// Evaluate implements Guard.
func (g *MetadataGuard) Evaluate(_ context.Context, in Input) Verdict {
	var missing []string
	for _, key := range g.keys {
		if in.Metadata[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return Pass()
	}
	sort.Strings(missing)
	return Fail(fmt.Sprintf("missing metadata keys: %s", strings.Join(missing, ", ")))
}

// AlwaysPass returns a guard that passes unconditionally. Testing utility.
func AlwaysPass(name string) Guard {
	return GuardFunc{GuardName: name, Fn: func(context.Context, Input) Verdict {
		return Pass()
	}}
}

// AlwaysFail returns a guard that fails unconditionally with the given
// reason. Testing utility.
func AlwaysFail(name, reason string) Guard {
	return GuardFunc{GuardName: name, Fn: func(context.Context, Input) Verdict {
		return Fail(reason)
	}}
}

package guard

import (
	"context"
	"strings"
)

// And composes guards with short-circuit AND semantics: guards evaluate in
// order and the first non-Pass verdict is returned. If every guard passes,
// the composite passes.
func And(guards ...Guard) Guard {
	return &andGuard{guards: guards}
}

type andGuard struct {
	guards []Guard
}

func (g *andGuard) Name() string { return "and(" + joinNames(g.guards) + ")" }

func (g *andGuard) Evaluate(ctx context.Context, in Input) Verdict {
	for _, inner := range g.guards {
		if v := inner.Evaluate(ctx, in); !v.IsPass() {
			return v
		}
	}
	return Pass()
}

// Or composes guards with short-circuit OR semantics: guards evaluate in
// order and the first Pass wins. When no guard passes, the LAST verdict seen
// is returned.
//
// Surfacing the last verdict rather than the first keeps the reported reason
// on the final guard in the chain, which is the last resort.
func Or(guards ...Guard) Guard {
	return &orGuard{guards: guards}
}

type orGuard struct {
	guards []Guard
}

func (g *orGuard) Name() string { return "or(" + joinNames(g.guards) + ")" }

func (g *orGuard) Evaluate(ctx context.Context, in Input) Verdict {
	last := Fail("no guards to evaluate")
	for _, inner := range g.guards {
		last = inner.Evaluate(ctx, in)
		if last.IsPass() {
			return last
		}
	}
	return last
}

// Not inverts a guard: Pass becomes Fail, and Fail or Defer become Pass.
//
// Negating a Defer verdict is semantically odd ("not enough information yet"
// has no clean complement) and interacts badly with retry loops that expect
// Defer to mean "try again later". Avoid wrapping Defer-producing guards in
// Not; the literal inversion is implemented as documented.
func Not(inner Guard) Guard {
	return &notGuard{inner: inner}
}

type notGuard struct {
	inner Guard
}

func (g *notGuard) Name() string { return "not(" + g.inner.Name() + ")" }

func (g *notGuard) Evaluate(ctx context.Context, in Input) Verdict {
	v := g.inner.Evaluate(ctx, in)
	if v.IsPass() {
		return Fail("negated: guard " + g.inner.Name() + " passed")
	}
	return Pass()
}

// EvaluateAll runs an ordered guard list with AND semantics and returns the
// aggregate verdict plus the index of the guard that determined the outcome.
//
// When every guard passes, the returned index is -1 (no single guard decided
// the result). The index is intended for diagnostics: callers can name the
// blocking guard in logs and rejection reasons.
func EvaluateAll(ctx context.Context, in Input, guards []Guard) (Verdict, int) {
	for i, g := range guards {
		if v := g.Evaluate(ctx, in); !v.IsPass() {
			return v, i
		}
	}
	return Pass(), -1
}

func joinNames(guards []Guard) string {
	names := make([]string, len(guards))
	for i, g := range guards {
		names[i] = g.Name()
	}
	return strings.Join(names, ",")
}

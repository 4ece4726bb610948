package guard

import (
	"context"
	"sync"
	"time"
)

// RateLimitGuard enforces a rolling-window rate limit per key.
//
// The guard keeps a counter of recent invocations keyed by an identifier
// (the Input's Actor by default). On each evaluation it purges entries older
// than the window, then passes and records the invocation while the count is
// below the maximum, and fails with "rate limit exceeded" otherwise.
//
// This is the only stateful guard in the engine. The counters are owned by
// the guard instance, not package-level state, so tests can construct
// isolated limiters. All methods are safe for concurrent use.
//
// Example:
//
//	g := guard.NewRateLimitGuard("agent-rate", time.Second, 2)
//	g.Evaluate(ctx, in) // Pass
//	g.Evaluate(ctx, in) // Pass
//	g.Evaluate(ctx, in) // Fail("rate limit exceeded")
type RateLimitGuard struct {
	name     string
	window   time.Duration
	maxCount int

	// keyFn derives the counter key from the input. Defaults to Actor.
	keyFn func(Input) string

	// now is the clock, overridable for tests.
	now func() time.Time

	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewRateLimitGuard creates a rate-limit guard permitting maxCount
// invocations per key within the rolling window.
func NewRateLimitGuard(name string, window time.Duration, maxCount int) *RateLimitGuard {
	return &RateLimitGuard{
		name:     name,
		window:   window,
		maxCount: maxCount,
		keyFn:    func(in Input) string { return in.Actor },
		now:      time.Now,
		entries:  make(map[string][]time.Time),
	}
}

// WithKeyFunc replaces the default Actor-based key derivation. Returns the
// guard for chaining during construction.
func (g *RateLimitGuard) WithKeyFunc(fn func(Input) string) *RateLimitGuard {
	g.keyFn = fn
	return g
}

// WithClock replaces the wall clock. Test hook.
func (g *RateLimitGuard) WithClock(now func() time.Time) *RateLimitGuard {
	g.now = now
	return g
}

// Name implements Guard.
func (g *RateLimitGuard) Name() string { return g.name }

// Evaluate implements Guard.
//
// Purge-then-count: entries older than the window are dropped before the
// count is compared against the maximum, so a key that was limited becomes
// eligible again once the window elapses.
func (g *RateLimitGuard) Evaluate(_ context.Context, in Input) Verdict {
	key := g.keyFn(in)
	now := g.now()
	cutoff := now.Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	recent := g.entries[key][:0]
	for _, t := range g.entries[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= g.maxCount {
		g.entries[key] = recent
		return Fail("rate limit exceeded")
	}

	g.entries[key] = append(recent, now)
	return Pass()
}

// Reset clears all recorded invocations for every key.
func (g *RateLimitGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[string][]time.Time)
}

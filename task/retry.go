package task

import (
	"math/rand"
	"time"
)

// RetryPolicy configures backoff for ScheduleRetry effects.
//
// Retries are bounded: once a task has consumed MaxRetries scheduled
// retries, the next retryable failure leaves it in Failed with a
// "max retries exceeded" reason instead of scheduling another attempt.
type RetryPolicy struct {
	// MaxRetries is the number of scheduled retries allowed per task.
	MaxRetries int

	// BaseDelay is the base for exponential backoff. The delay before retry
	// n is min(BaseDelay * 2^n, MaxDelay) plus jitter in [0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Jitter enables randomized jitter on top of the exponential delay.
	// Disable for deterministic tests.
	Jitter bool
}

// DefaultRetryPolicy matches the documented defaults: four retries starting
// at one second and capping at eight.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 4,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
		Jitter:     true,
	}
}

// computeBackoff calculates the delay before retry attempt n (zero-based)
// using exponential backoff with optional jitter.
//
// delay = min(base * 2^attempt, maxDelay) [+ jitter(0, base)]
//
// The jitter spreads concurrent retries so failing tasks do not storm the
// provider in lockstep.
func (p RetryPolicy) computeBackoff(attempt int, rng *rand.Rand) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 8 * time.Second
	}

	// Bit shift for 2^attempt; clamp the shift to avoid overflow on large
	// attempt counts.
	shift := attempt
	if shift > 30 {
		shift = 30
	}
	delay := base * (1 << shift)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	if p.Jitter && rng != nil {
		delay += time.Duration(rng.Int63n(int64(base)))
	}
	return delay
}

package task

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/taskrun-go/task/guard"
)

// Option configures a Runtime.
//
// Example:
//
//	rt, err := task.New(store, emitter,
//	    task.WithRetryPolicy(task.RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 4 * time.Second}),
//	    task.WithGuards(guard.NewMetadataGuard("manifest", "manifest.version")),
//	    task.WithTaskTimeout(10*time.Minute),
//	)
type Option func(*Runtime) error

// WithGuards installs the guard chain evaluated (with AND semantics) before
// every Preparing dispatch. The aggregate verdict lands in the task context,
// where the transition function gives it precedence over dependency
// readiness.
func WithGuards(guards ...guard.Guard) Option {
	return func(r *Runtime) error {
		r.guards = append(r.guards, guards...)
		return nil
	}
}

// WithRetryPolicy sets the backoff policy applied to ScheduleRetry effects.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Runtime) error {
		if p.MaxRetries < 0 {
			return errors.New("retry policy: MaxRetries cannot be negative")
		}
		r.policy = p
		return nil
	}
}

// WithMetrics attaches Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(r *Runtime) error {
		r.metrics = m
		return nil
	}
}

// WithHealthCheck makes Execute and Resume probe providers that implement
// provider.HealthChecker before admitting work. A failed probe rejects the
// call without creating an execution, so a dead backend never consumes a
// task's retry budget.
func WithHealthCheck() Option {
	return func(r *Runtime) error {
		r.healthCheck = true
		return nil
	}
}

// WithReadiness supplies the dependency-readiness source consulted when a
// task declares dependencies. Without one, tasks with dependencies never
// become ready.
func WithReadiness(src guard.ReadinessSource) Option {
	return func(r *Runtime) error {
		r.readiness = src
		return nil
	}
}

// WithTaskTimeout bounds each drive loop. When the budget elapses, the
// runtime dispatches a Timeout event at the next transition boundary, which
// routes active states to Failed. Zero disables the timer.
func WithTaskTimeout(d time.Duration) Option {
	return func(r *Runtime) error {
		if d < 0 {
			return errors.New("task timeout cannot be negative")
		}
		r.taskTimeout = d
		return nil
	}
}

// WithCheckpointInterval sets the wall-clock cadence of extra checkpoints
// written while a task sits in Executing, so long provider calls remain
// resumable. Zero disables interval checkpointing; transition checkpoints
// are always written.
func WithCheckpointInterval(d time.Duration) Option {
	return func(r *Runtime) error {
		if d < 0 {
			return errors.New("checkpoint interval cannot be negative")
		}
		r.checkpointInterval = d
		return nil
	}
}

// WithDeferPollInterval sets how long a drive loop waits before re-checking
// dependencies after a Deferred outcome.
func WithDeferPollInterval(d time.Duration) Option {
	return func(r *Runtime) error {
		if d <= 0 {
			return errors.New("defer poll interval must be positive")
		}
		r.deferPoll = d
		return nil
	}
}

// WithClock overrides the runtime's time source. Tests use this together
// with WithSleeper to make backoff deterministic.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		r.now = now
		return nil
	}
}

// WithSleeper overrides how the runtime waits out backoff and poll delays.
// The function must return early with ctx.Err() when the context is
// cancelled.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runtime) error {
		if sleep == nil {
			return errors.New("sleeper cannot be nil")
		}
		r.sleep = sleep
		return nil
	}
}

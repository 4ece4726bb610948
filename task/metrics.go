package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects runtime execution metrics for production
// monitoring. All metrics are namespaced with "taskrun_".
//
// Metrics exposed:
//
//  1. active_tasks (gauge): tasks currently owned by a drive loop.
//  2. transitions_total (counter): applied transitions, labeled by
//     from_state, to_state, and event.
//  3. rejections_total (counter): rejected dispatches, labeled by state and
//     event.
//  4. retries_total (counter): scheduled retries, labeled by agent.
//  5. checkpoints_total (counter): persisted checkpoints, labeled by backend
//     outcome (success/error).
//  6. provider_latency_seconds (histogram): completion provider call
//     durations, labeled by provider and status.
//  7. task_duration_seconds (histogram): wall-clock duration of finished
//     drive loops, labeled by final state.
//
// Expose via HTTP for scraping:
//
//	registry := prometheus.NewRegistry()
//	metrics := task.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	activeTasks     prometheus.Gauge
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	retries         *prometheus.CounterVec
	checkpoints     *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	taskDuration    *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers all runtime metrics with the
// given registry. Use prometheus.DefaultRegisterer for the global registry,
// or a fresh prometheus.NewRegistry() in tests.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		activeTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskrun",
			Name:      "active_tasks",
			Help:      "Number of tasks currently owned by a drive loop",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrun",
			Name:      "transitions_total",
			Help:      "Applied state transitions",
		}, []string{"from_state", "to_state", "event"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrun",
			Name:      "rejections_total",
			Help:      "Rejected event dispatches",
		}, []string{"state", "event"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrun",
			Name:      "retries_total",
			Help:      "Scheduled retry attempts",
		}, []string{"agent"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrun",
			Name:      "checkpoints_total",
			Help:      "Checkpoint writes by outcome",
		}, []string{"status"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskrun",
			Name:      "provider_latency_seconds",
			Help:      "Completion provider call durations",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "status"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskrun",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of finished drive loops",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"final_state"}),
	}
}

// TaskStarted records a drive loop taking ownership of a task.
func (m *PrometheusMetrics) TaskStarted() {
	if m == nil {
		return
	}
	m.activeTasks.Inc()
}

// TaskFinished records a drive loop releasing a task and its total duration.
func (m *PrometheusMetrics) TaskFinished(finalState State, d time.Duration) {
	if m == nil {
		return
	}
	m.activeTasks.Dec()
	m.taskDuration.WithLabelValues(string(finalState)).Observe(d.Seconds())
}

// Transition records one applied or rejected dispatch.
func (m *PrometheusMetrics) Transition(out Outcome) {
	if m == nil {
		return
	}
	if out.Rejected() {
		m.rejections.WithLabelValues(string(out.FromState), string(out.Event)).Inc()
		return
	}
	m.transitions.WithLabelValues(string(out.FromState), string(out.ToState), string(out.Event)).Inc()
}

// Retry records one scheduled retry for the agent.
func (m *PrometheusMetrics) Retry(agent string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(agent).Inc()
}

// Checkpoint records one checkpoint write attempt.
func (m *PrometheusMetrics) Checkpoint(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.checkpoints.WithLabelValues(status).Inc()
}

// ProviderCall records one completion provider invocation.
func (m *PrometheusMetrics) ProviderCall(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.providerLatency.WithLabelValues(name, status).Observe(d.Seconds())
}

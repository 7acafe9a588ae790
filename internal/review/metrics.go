package review

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the review orchestrator.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	PhasesTotal    *prometheus.CounterVec
	PhaseAttempts  *prometheus.CounterVec
	SubtasksTotal  *prometheus.CounterVec
	SubtaskSeconds prometheus.Histogram
}

// NewMetrics creates and registers the orchestrator metrics.
//
// Registration runs once per process; later calls return the same
// instance, preventing duplicate-collector panics when multiple
// runners exist.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reviewd_runs_total",
					Help: "Total review runs by terminal phase",
				},
				[]string{"terminal"}, // "done", "failed", "stopped"
			),
			RunDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "reviewd_run_duration_seconds",
					Help:    "Wall-clock duration of review runs",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
			),
			PhasesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reviewd_phases_executed_total",
					Help: "Total phase executions by phase",
				},
				[]string{"phase"},
			),
			PhaseAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reviewd_phase_attempts_total",
					Help: "Total execution-path invocations by phase, retries included",
				},
				[]string{"phase"},
			),
			SubtasksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reviewd_subtasks_total",
					Help: "Total dispatched todo items by terminal status",
				},
				[]string{"status"},
			),
			SubtaskSeconds: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "reviewd_subtask_duration_seconds",
					Help:    "Wall-clock duration of delegated sub-runs",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
				},
			),
		}
	})
	return globalMetrics
}

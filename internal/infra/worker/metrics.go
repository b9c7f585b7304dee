package worker

import (
	"github.com/dwahbe/climate-river/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics provides Prometheus metrics for the HTTP-triggered scheduler.
// It embeds the standard ConfigMetrics for configuration monitoring and adds
// scheduler-specific metrics for per-invocation stage execution tracking.
//
// Embedded metrics (from ConfigMetrics):
//   - worker_config_load_timestamp: Unix timestamp of last configuration load
//   - worker_config_validation_errors_total: Total validation errors by field
//   - worker_config_fallbacks_total: Total fallback operations by field
//   - worker_config_fallback_active: 1 if any fallback active, 0 otherwise
//
// Scheduler-specific metrics:
//   - worker_scheduler_runs_total: Total stage invocations by stage and status
//   - worker_scheduler_run_duration_seconds: Duration histogram of a stage invocation
//   - worker_scheduler_articles_processed_total: Total articles touched per invocation
//   - worker_scheduler_last_success_timestamp: Unix timestamp of the last successful run
type WorkerMetrics struct {
	*config.ConfigMetrics

	// SchedulerRunsTotal counts stage invocations.
	// Labels: stage (light, delta, daily), status (success, failure)
	SchedulerRunsTotal *prometheus.CounterVec

	// SchedulerRunDurationSeconds measures the duration of a stage invocation.
	// Buckets chosen for typical crawl/cluster/score durations.
	SchedulerRunDurationSeconds *prometheus.HistogramVec

	// SchedulerArticlesProcessedTotal counts articles touched across all stages.
	SchedulerArticlesProcessedTotal prometheus.Counter

	// SchedulerLastSuccessTimestamp records the Unix timestamp of the last
	// successful invocation, per stage.
	SchedulerLastSuccessTimestamp *prometheus.GaugeVec
}

// NewWorkerMetrics creates a new WorkerMetrics instance with all metrics
// initialized. Metrics are created but registration happens automatically via
// promauto.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		SchedulerRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_scheduler_runs_total",
			Help: "Total number of scheduler stage invocations by stage and status",
		}, []string{"stage", "status"}),

		SchedulerRunDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_scheduler_run_duration_seconds",
			Help:    "Duration of a scheduler stage invocation in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
		}, []string{"stage"}),

		SchedulerArticlesProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_scheduler_articles_processed_total",
			Help: "Total number of articles processed across all scheduler invocations",
		}),

		SchedulerLastSuccessTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_scheduler_last_success_timestamp",
			Help: "Unix timestamp of the last successful scheduler invocation, per stage",
		}, []string{"stage"}),
	}
}

// MustRegister is a no-op method for API compatibility; metrics are
// auto-registered via promauto when created in NewWorkerMetrics.
func (m *WorkerMetrics) MustRegister() {
	// No-op: metrics are auto-registered via promauto
}

// RecordStageRun increments the stage run counter for the given stage and status.
func (m *WorkerMetrics) RecordStageRun(stage, status string) {
	m.SchedulerRunsTotal.WithLabelValues(stage, status).Inc()
}

// RecordStageDuration observes the duration of a stage invocation, in seconds.
func (m *WorkerMetrics) RecordStageDuration(stage string, seconds float64) {
	m.SchedulerRunDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordArticlesProcessed adds the number of articles processed to the total counter.
func (m *WorkerMetrics) RecordArticlesProcessed(count int) {
	m.SchedulerArticlesProcessedTotal.Add(float64(count))
}

// RecordStageSuccess records the current time as the last successful
// invocation of the given stage.
func (m *WorkerMetrics) RecordStageSuccess(stage string) {
	m.SchedulerLastSuccessTimestamp.WithLabelValues(stage).SetToCurrentTime()
}

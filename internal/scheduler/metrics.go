package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for scheduled jobs.
type Metrics struct {
	JobRuns       *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	Deactivations *prometheus.CounterVec
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total scheduled job runs.",
		}, []string{"job"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grcpilot",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of each scheduled job run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"job"}),
		Deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "scheduler",
			Name:      "integration_deactivations_total",
			Help:      "Integrations flipped to inactive by the health sweep.",
		}, []string{"provider"}),
	}

	reg.MustRegister(m.JobRuns, m.JobDuration, m.Deactivations)
	return m
}

func (m *Metrics) observeRun(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) deactivated(provider string) {
	if m == nil {
		return
	}
	m.Deactivations.WithLabelValues(provider).Inc()
}

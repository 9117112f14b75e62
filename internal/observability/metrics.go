package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for grcpilot.
// Uses a custom registry, no global state. Record* methods are nil-safe.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Agent loop metrics.
	AgentIterations  prometheus.Histogram
	ToolCallsTotal   *prometheus.CounterVec
	PendingQueued    *prometheus.CounterVec
	ApprovalsTotal   *prometheus.CounterVec
	ApprovalDuration *prometheus.HistogramVec
	QuotaRefusals    prometheus.Counter

	// Integration metrics.
	IntegrationTestsTotal *prometheus.CounterVec
	IntegrationSyncsTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grcpilot",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		AgentIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "grcpilot",
			Subsystem: "agent",
			Name:      "iterations",
			Help:      "Model round-trips per conversation turn.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool calls requested by the model.",
		}, []string{"tool", "class", "status"}),

		PendingQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "agent",
			Name:      "pending_actions_total",
			Help:      "Write actions queued for approval.",
		}, []string{"tool"}),

		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "approval",
			Name:      "executions_total",
			Help:      "Approved action executions by outcome.",
		}, []string{"tool", "outcome"}),

		ApprovalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grcpilot",
			Subsystem: "approval",
			Name:      "execution_duration_seconds",
			Help:      "Approved action execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		QuotaRefusals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "metering",
			Name:      "quota_refusals_total",
			Help:      "Approvals refused because the write quota was exhausted.",
		}),

		IntegrationTestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "integration",
			Name:      "tests_total",
			Help:      "Integration connectivity tests by result.",
		}, []string{"provider", "result"}),

		IntegrationSyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "integration",
			Name:      "syncs_total",
			Help:      "Integration syncs by status.",
		}, []string{"provider", "status"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grcpilot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grcpilot",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grcpilot",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.AgentIterations,
		m.ToolCallsTotal,
		m.PendingQueued,
		m.ApprovalsTotal,
		m.ApprovalDuration,
		m.QuotaRefusals,
		m.IntegrationTestsTotal,
		m.IntegrationSyncsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordIterations observes the model round-trips of one turn.
func (m *MetricsCollector) RecordIterations(n int) {
	if m == nil {
		return
	}
	m.AgentIterations.Observe(float64(n))
}

// RecordToolCall counts a tool call requested by the model.
func (m *MetricsCollector) RecordToolCall(tool, class, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, class, status).Inc()
}

// RecordQueued counts a write action persisted for approval.
func (m *MetricsCollector) RecordQueued(tool string) {
	if m == nil {
		return
	}
	m.PendingQueued.WithLabelValues(tool).Inc()
}

// RecordApproval counts an approval outcome and its duration.
func (m *MetricsCollector) RecordApproval(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ApprovalsTotal.WithLabelValues(tool, outcome).Inc()
	m.ApprovalDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordQuotaRefusal counts an approval refused for quota.
func (m *MetricsCollector) RecordQuotaRefusal() {
	if m == nil {
		return
	}
	m.QuotaRefusals.Inc()
}

// RecordIntegrationTest counts a connectivity test result ("ok" or "fail").
func (m *MetricsCollector) RecordIntegrationTest(provider, result string) {
	if m == nil {
		return
	}
	m.IntegrationTestsTotal.WithLabelValues(provider, result).Inc()
}

// RecordIntegrationSync counts a sync against an external system.
func (m *MetricsCollector) RecordIntegrationSync(provider, status string) {
	if m == nil {
		return
	}
	m.IntegrationSyncsTotal.WithLabelValues(provider, status).Inc()
}

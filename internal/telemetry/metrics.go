// Package telemetry wires the Prometheus metrics registry and the
// OpenTelemetry trace exporter every long-running component reports
// through: the Agent Loop, the Tool Runner, the Security Controller's
// approval flow, and the Coordinator's fan-out.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and histograms agentsh exports. One
// instance is built at startup and threaded through the components
// that report against it.
type Metrics struct {
	// LLMRequestDuration measures provider latency.
	// Labels: provider, model, status (success|error)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks prompt/completion token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutions counts tool invocations by outcome.
	// Labels: tool_name, status (success|error|blocked)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalOutcomes counts security-flagged commands by resolution.
	// Labels: outcome (approved|denied|timeout|edited)
	ApprovalOutcomes *prometheus.CounterVec

	// SessionSummarizations counts how often a session's turn history
	// was collapsed under its summarize threshold.
	SessionSummarizations prometheus.Counter

	// RolloutDevices tracks per-rollout device outcomes.
	// Labels: mode (parallel|sequential|canary), status (succeeded|failed|rolled_back)
	RolloutDevices *prometheus.CounterVec
}

// NewMetrics registers and returns the metric set. Call once at
// startup; registering twice against the same registry panics.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentsh_llm_request_duration_seconds",
				Help:    "Duration of LLM provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentsh_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentsh_tool_executions_total",
				Help: "Total tool executions by tool name and outcome",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentsh_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ApprovalOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentsh_approval_outcomes_total",
				Help: "Total approval requests by resolution",
			},
			[]string{"outcome"},
		),
		SessionSummarizations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentsh_session_summarizations_total",
				Help: "Total number of session turn-history summarizations",
			},
		),
		RolloutDevices: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentsh_rollout_devices_total",
				Help: "Total per-device rollout outcomes by mode and status",
			},
			[]string{"mode", "status"},
		),
	}
}

// RecordLLMRequest records one provider call's latency and token use.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestDuration.WithLabelValues(provider, model, status).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool call's outcome and duration.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutions.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval records one resolved approval request.
func (m *Metrics) RecordApproval(outcome string) {
	m.ApprovalOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSessionSummarization records one session crossing its
// summarize threshold.
func (m *Metrics) RecordSessionSummarization() {
	m.SessionSummarizations.Inc()
}

// RecordRolloutDevice records one device's outcome within a rollout.
func (m *Metrics) RecordRolloutDevice(mode, status string) {
	m.RolloutDevices.WithLabelValues(mode, status).Inc()
}

// Handler returns the HTTP handler serving the registered metrics in
// the Prometheus exposition format, for a listener on TelemetryConfig's
// PrometheusPort.
func Handler() http.Handler {
	return promhttp.Handler()
}

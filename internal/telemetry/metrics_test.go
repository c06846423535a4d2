package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_RecordToolExecution(t *testing.T) {
	m := NewMetrics()
	m.RecordToolExecution("shell.run", "success", 0.25)

	count := counterValue(t, m.ToolExecutions.WithLabelValues("shell.run", "success"))
	if count != 1 {
		t.Fatalf("want 1 execution recorded, got %v", count)
	}
}

func TestMetrics_RecordLLMRequestSkipsZeroTokenCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 1.5, 0, 0)

	var metric dto.Metric
	if err := m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4", "prompt").Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.GetCounter().GetValue() != 0 {
		t.Fatalf("want untouched zero-token counter, got %v", metric.GetCounter().GetValue())
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

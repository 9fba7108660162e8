package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWith(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWith(reg)
	if metrics == nil {
		t.Fatal("NewMetricsWith() returned nil")
	}

	metrics.RunFinished("stop", 4)
	metrics.RunFinished("stop", 9)
	metrics.RunFinished("error", 1)

	if got := testutil.ToFloat64(metrics.RunCounter.WithLabelValues("stop")); got != 2 {
		t.Errorf("runs_total{status=stop} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.RunCounter.WithLabelValues("error")); got != 1 {
		t.Errorf("runs_total{status=error} = %v, want 1", got)
	}
}

func TestMetrics_RecordLLMRequest(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.RecordLLMRequest("critic", "gpt-5", "success", 1.2)
	metrics.RecordLLMRequest("critic", "gpt-5", "error", 0.4)
	metrics.RecordLLMRequest("assistant", "gpt-5-nano", "success", 0.2)

	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("critic", "gpt-5", "success")); got != 1 {
		t.Errorf("llm_requests_total{critic,success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("assistant", "gpt-5-nano", "success")); got != 1 {
		t.Errorf("llm_requests_total{assistant,success} = %v, want 1", got)
	}
}

func TestMetrics_AgentGauge(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.AgentConnected()
	metrics.AgentConnected()
	metrics.AgentDisconnected()

	if got := testutil.ToFloat64(metrics.ConnectedAgents); got != 1 {
		t.Errorf("connected_agents = %v, want 1", got)
	}
}

func TestMetrics_RecordResolution(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())

	metrics.RecordResolution("exact")
	metrics.RecordResolution("exact")
	metrics.RecordResolution("assistant")

	if got := testutil.ToFloat64(metrics.ResolutionCounter.WithLabelValues("exact")); got != 2 {
		t.Errorf("click_resolutions_total{exact} = %v, want 2", got)
	}
}

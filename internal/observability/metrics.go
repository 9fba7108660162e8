package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Run lifecycle outcomes and iteration counts
//   - Critic and Assistant request performance by model
//   - Remote driver command latencies and failures
//   - Click resolution outcomes (exact, assistant, fallback)
//   - Connected browser agents for capacity planning
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RunFinished("stop", 7)
//	defer metrics.LLMRequestDuration.WithLabelValues("critic", model).Observe(time.Since(start).Seconds())
type Metrics struct {
	// RunCounter tracks finished runs by terminal status.
	// Labels: status (stop|halt|aborted|error|await_assistance)
	RunCounter *prometheus.CounterVec

	// RunIterations measures how many critic steps a run consumed.
	// Buckets: 1, 2, 3, 5, 8, 10, 15, 20, 30
	RunIterations prometheus.Histogram

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: role (critic|assistant|bootstrap), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by role, model, and status.
	// Labels: role (critic|assistant|bootstrap), model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// CommandCounter counts remote driver commands by name and status.
	// Labels: name (SCREENSHOT|CLICK|...), status (success|error|timeout)
	CommandCounter *prometheus.CounterVec

	// CommandDuration measures remote driver command round trips in seconds.
	// Labels: name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 2s, 5s, 10s, 20s
	CommandDuration *prometheus.HistogramVec

	// ResolutionCounter counts click resolutions by path taken.
	// Labels: outcome (exact|assistant|fallback|unresolved)
	ResolutionCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error code.
	// Labels: component (loop|critic|assistant|driver|journal), code
	ErrorCounter *prometheus.CounterVec

	// ConnectedAgents is a gauge tracking browser agents attached to the pool.
	ConnectedAgents prometheus.Gauge

	// PausedRuns is a gauge tracking runs currently parked at a pause barrier.
	PausedRuns prometheus.Gauge

	// HTTPRequestDuration measures brain API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts brain API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics against the
// default registry. This should be called once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metric set against a caller-supplied
// registerer. Tests use a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerovaagent_runs_total",
				Help: "Total number of finished runs by terminal status",
			},
			[]string{"status"},
		),

		RunIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nerovaagent_run_iterations",
				Help:    "Number of critic iterations consumed per run",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20, 30},
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nerovaagent_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"role", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerovaagent_llm_requests_total",
				Help: "Total number of LLM requests by role, model, and status",
			},
			[]string{"role", "model", "status"},
		),

		CommandCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerovaagent_driver_commands_total",
				Help: "Total number of remote driver commands by name and status",
			},
			[]string{"name", "status"},
		),

		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nerovaagent_driver_command_duration_seconds",
				Help:    "Round-trip duration of remote driver commands in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"name"},
		),

		ResolutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerovaagent_click_resolutions_total",
				Help: "Total number of click resolutions by outcome path",
			},
			[]string{"outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerovaagent_errors_total",
				Help: "Total number of errors by component and error code",
			},
			[]string{"component", "code"},
		),

		ConnectedAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nerovaagent_connected_agents",
				Help: "Current number of browser agents attached to the pool",
			},
		),

		PausedRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nerovaagent_paused_runs",
				Help: "Current number of runs parked at a pause barrier",
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nerovaagent_http_request_duration_seconds",
				Help:    "Duration of brain API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nerovaagent_http_requests_total",
				Help: "Total number of brain API requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RunFinished records a completed run with its terminal status and the
// number of critic iterations it consumed.
func (m *Metrics) RunFinished(status string, iterations int) {
	m.RunCounter.WithLabelValues(status).Inc()
	m.RunIterations.Observe(float64(iterations))
}

// RecordLLMRequest records metrics for a critic or assistant request.
//
// Example:
//
//	start := time.Now()
//	// ... call the critic ...
//	metrics.RecordLLMRequest("critic", "gpt-5", "success", time.Since(start).Seconds())
func (m *Metrics) RecordLLMRequest(role, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(role, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(role, model).Observe(durationSeconds)
}

// RecordCommand records metrics for a remote driver command round trip.
func (m *Metrics) RecordCommand(name, status string, durationSeconds float64) {
	m.CommandCounter.WithLabelValues(name, status).Inc()
	m.CommandDuration.WithLabelValues(name).Observe(durationSeconds)
}

// RecordResolution increments the resolution counter for an outcome path.
//
// Example:
//
//	metrics.RecordResolution("exact")
//	metrics.RecordResolution("assistant")
func (m *Metrics) RecordResolution(outcome string) {
	m.ResolutionCounter.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter for a component and error code.
func (m *Metrics) RecordError(component, code string) {
	m.ErrorCounter.WithLabelValues(component, code).Inc()
}

// AgentConnected increments the connected agents gauge.
func (m *Metrics) AgentConnected() {
	m.ConnectedAgents.Inc()
}

// AgentDisconnected decrements the connected agents gauge.
func (m *Metrics) AgentDisconnected() {
	m.ConnectedAgents.Dec()
}

// RecordHTTPRequest records metrics for a brain API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

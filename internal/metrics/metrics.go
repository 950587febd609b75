// Package metrics exposes Prometheus instrumentation for takeoff runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "takeoff"

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	inferenceTotal    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	inferenceTokens   *prometheus.CounterVec
	batchRetries      *prometheus.CounterVec
	batchFallbacks    *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	runsTotal         *prometheus.CounterVec
	runsInFlight      prometheus.Gauge
}

// New builds a Metrics backed by a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	inferenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Vision inference calls by pass and outcome.",
		},
		[]string{"pass", "outcome"},
	)
	inferenceDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Vision inference latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"pass"},
	)
	inferenceTokens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_tokens_total",
			Help:      "Tokens consumed by pass and direction.",
		},
		[]string{"pass", "direction"},
	)
	batchRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_retries_total",
			Help:      "Task retries issued by the batch executor.",
		},
		[]string{"stage"},
	)
	batchFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_fallbacks_total",
			Help:      "Tasks that exhausted retries and yielded a fallback value.",
		},
		[]string{"stage"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Finished pipeline runs by status.",
		},
		[]string{"status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_in_flight",
			Help:      "Pipeline runs currently executing.",
		},
	)

	registry.MustRegister(
		inferenceTotal, inferenceDuration, inferenceTokens,
		batchRetries, batchFallbacks,
		stageDuration, runsTotal, runsInFlight,
	)

	return &Metrics{
		registry:          registry,
		inferenceTotal:    inferenceTotal,
		inferenceDuration: inferenceDuration,
		inferenceTokens:   inferenceTokens,
		batchRetries:      batchRetries,
		batchFallbacks:    batchFallbacks,
		stageDuration:     stageDuration,
		runsTotal:         runsTotal,
		runsInFlight:      runsInFlight,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveInference records one call. outcome is "ok", "empty", "cached" or
// the error class.
func (m *Metrics) ObserveInference(pass, outcome string, d time.Duration, inputTokens, outputTokens int64) {
	if m == nil {
		return
	}
	m.inferenceTotal.WithLabelValues(pass, outcome).Inc()
	if outcome != "cached" {
		m.inferenceDuration.WithLabelValues(pass).Observe(d.Seconds())
	}
	if inputTokens > 0 {
		m.inferenceTokens.WithLabelValues(pass, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.inferenceTokens.WithLabelValues(pass, "output").Add(float64(outputTokens))
	}
}

// IncRetry counts one retry in the named stage.
func (m *Metrics) IncRetry(stage string) {
	if m == nil {
		return
	}
	m.batchRetries.WithLabelValues(stage).Inc()
}

// IncFallback counts one task that yielded its fallback value.
func (m *Metrics) IncFallback(stage string) {
	if m == nil {
		return
	}
	m.batchFallbacks.WithLabelValues(stage).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// StartRun marks a run as in flight.
func (m *Metrics) StartRun() {
	if m == nil {
		return
	}
	m.runsInFlight.Inc()
}

// FinishRun records the terminal status of a run.
func (m *Metrics) FinishRun(status string) {
	if m == nil {
		return
	}
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
}

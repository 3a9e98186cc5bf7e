// Package metrics provides Prometheus metrics export for the routing engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/modelpilot/ai/routing"
)

// PrometheusExporter exports routing engine metrics in Prometheus format.
// All record methods are nil-safe so callers can leave metrics unwired.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Decision metrics
	decisions  *prometheus.CounterVec
	confidence prometheus.Histogram
	stageFires *prometheus.CounterVec

	// Privacy metrics
	privacyForced prometheus.Counter

	// Classification cache metrics
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// Drift / suggestion metrics
	driftRuns   prometheus.Counter
	driftsFound *prometheus.CounterVec
	suggestions *prometheus.CounterVec

	// Outcome metrics
	outcomes *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for the decision confidence histogram
	ConfidenceBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceBuckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.ConfidenceBuckets) == 0 {
		cfg.ConfidenceBuckets = DefaultConfig().ConfidenceBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Total routing decisions by category and chosen worker",
		},
		[]string{"category", "worker"},
	)

	e.confidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "modelpilot",
			Subsystem: "routing",
			Name:      "decision_confidence",
			Help:      "Final decision confidence distribution",
			Buckets:   cfg.ConfidenceBuckets,
		},
	)

	e.stageFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "routing",
			Name:      "stage_fires_total",
			Help:      "Override stage activations by stage and whether the worker switched",
		},
		[]string{"stage", "switched"},
	)

	e.privacyForced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "routing",
			Name:      "privacy_forced_total",
			Help:      "Decisions forced to a local-capable worker by the privacy stage",
		},
	)

	e.cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "routing",
			Name:      "classification_cache_hits_total",
			Help:      "Classification cache hits",
		},
	)

	e.cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "routing",
			Name:      "classification_cache_misses_total",
			Help:      "Classification cache misses",
		},
	)

	e.driftRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "drift",
			Name:      "analysis_runs_total",
			Help:      "Completed drift analysis runs",
		},
	)

	e.driftsFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "drift",
			Name:      "drifts_detected_total",
			Help:      "Detected preference drifts by category",
		},
		[]string{"category"},
	)

	e.suggestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "drift",
			Name:      "suggestions_total",
			Help:      "Suggestion lifecycle events by status",
		},
		[]string{"status"},
	)

	e.outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "routing",
			Name:      "outcomes_total",
			Help:      "Recorded task outcomes by worker and result",
		},
		[]string{"worker", "result"},
	)

	registry.MustRegister(
		e.decisions,
		e.confidence,
		e.stageFires,
		e.privacyForced,
		e.cacheHits,
		e.cacheMisses,
		e.driftRuns,
		e.driftsFound,
		e.suggestions,
		e.outcomes,
	)

	return e
}

var _ routing.Metrics = (*PrometheusExporter)(nil)

// ObserveDecision records a completed routing decision.
func (e *PrometheusExporter) ObserveDecision(category routing.Category, workerID string, confidence float64) {
	if e == nil {
		return
	}
	e.decisions.WithLabelValues(string(category), workerID).Inc()
	e.confidence.Observe(confidence)
}

// ObserveStage records one override stage activation.
func (e *PrometheusExporter) ObserveStage(stage string, switched bool) {
	if e == nil {
		return
	}
	label := "no"
	if switched {
		label = "yes"
	}
	e.stageFires.WithLabelValues(stage, label).Inc()
}

// ObserveCacheHit records a classification cache lookup.
func (e *PrometheusExporter) ObserveCacheHit(hit bool) {
	if e == nil {
		return
	}
	if hit {
		e.cacheHits.Inc()
	} else {
		e.cacheMisses.Inc()
	}
}

// ObservePrivacyForced records a privacy-stage override.
func (e *PrometheusExporter) ObservePrivacyForced() {
	if e == nil {
		return
	}
	e.privacyForced.Inc()
}

// ObserveDriftRun records a completed drift analysis pass.
func (e *PrometheusExporter) ObserveDriftRun(detected map[routing.Category]int) {
	if e == nil {
		return
	}
	e.driftRuns.Inc()
	for category, n := range detected {
		e.driftsFound.WithLabelValues(string(category)).Add(float64(n))
	}
}

// ObserveSuggestion records a suggestion lifecycle transition.
func (e *PrometheusExporter) ObserveSuggestion(status string) {
	if e == nil {
		return
	}
	e.suggestions.WithLabelValues(status).Inc()
}

// ObserveOutcome records one task outcome.
func (e *PrometheusExporter) ObserveOutcome(workerID string, success bool) {
	if e == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	e.outcomes.WithLabelValues(workerID, result).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

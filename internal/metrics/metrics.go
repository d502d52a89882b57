// Package metrics exposes the engine's prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry        *prometheus.Registry
	suggestions     *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	feedback        *prometheus.CounterVec
	partialFits     *prometheus.CounterVec
	hintsPromoted   prometheus.Counter
	outbox          *prometheus.CounterVec
	registryVersion prometheus.Gauge
	scoringSeconds  prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spice_suggestions_total",
			Help: "Suggestion requests by the path actually used and the source of the answer.",
		}, []string{"mode", "source"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spice_degraded_total",
			Help: "Requests that wanted a model but were answered heuristically, by cause.",
		}, []string{"cause"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spice_feedback_total",
			Help: "Feedback rows appended to the ledger.",
		}, []string{"action"}),
		partialFits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spice_partial_fit_total",
			Help: "Incremental model updates by result.",
		}, []string{"result"}),
		hintsPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spice_hints_promoted_total",
			Help: "Merchant category hints upserted by the promotion job.",
		}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spice_outbox_messages_total",
			Help: "Outbox messages relayed to the fact stream by result.",
		}, []string{"topic", "result"}),
		registryVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spice_registry_snapshot_version",
			Help: "Version of the registry snapshot currently served.",
		}),
		scoringSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spice_scoring_duration_seconds",
			Help:    "Model scoring latency.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	m.registry.MustRegister(
		m.suggestions,
		m.degraded,
		m.feedback,
		m.partialFits,
		m.hintsPromoted,
		m.outbox,
		m.registryVersion,
		m.scoringSeconds,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Suggestion counts one answered suggestion request.
func (m *Metrics) Suggestion(mode, source string) {
	if m == nil {
		return
	}
	m.suggestions.WithLabelValues(mode, source).Inc()
}

// Degraded counts one degraded request.
func (m *Metrics) Degraded(cause string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(cause).Inc()
}

// Feedback counts one ledger append.
func (m *Metrics) Feedback(action string) {
	if m == nil {
		return
	}
	m.feedback.WithLabelValues(action).Inc()
}

// PartialFit counts one incremental update attempt.
func (m *Metrics) PartialFit(result string) {
	if m == nil {
		return
	}
	m.partialFits.WithLabelValues(result).Inc()
}

// HintsPromoted adds n promoted hints.
func (m *Metrics) HintsPromoted(n int) {
	if m == nil {
		return
	}
	m.hintsPromoted.Add(float64(n))
}

// Outbox counts one relay attempt.
func (m *Metrics) Outbox(topic, result string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(topic, result).Inc()
}

// RegistryVersion records the served registry snapshot version.
func (m *Metrics) RegistryVersion(v uint64) {
	if m == nil {
		return
	}
	m.registryVersion.Set(float64(v))
}

// ObserveScoring records one scoring latency in seconds.
func (m *Metrics) ObserveScoring(seconds float64) {
	if m == nil {
		return
	}
	m.scoringSeconds.Observe(seconds)
}

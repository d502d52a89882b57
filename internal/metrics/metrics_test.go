package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Suggestion("model", "model")
	m.Suggestion("model", "model")
	m.Suggestion("heuristic", "heuristic")
	m.Degraded("timeout")
	m.Feedback("accept")
	m.HintsPromoted(3)
	m.RegistryVersion(7)

	assert.InDelta(t, 2, testutil.ToFloat64(m.suggestions.WithLabelValues("model", "model")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.suggestions.WithLabelValues("heuristic", "heuristic")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.degraded.WithLabelValues("timeout")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.feedback.WithLabelValues("accept")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.hintsPromoted), 1e-9)
	assert.InDelta(t, 7, testutil.ToFloat64(m.registryVersion), 1e-9)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Suggestion("auto", "heuristic")
		m.Degraded("scoring_error")
		m.Feedback("undo")
		m.PartialFit("ok")
		m.HintsPromoted(1)
		m.Outbox("events", "sent")
		m.RegistryVersion(1)
		m.ObserveScoring(0.01)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Suggestion("rule", "rule")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `spice_suggestions_total{mode="rule",source="rule"} 1`)
}

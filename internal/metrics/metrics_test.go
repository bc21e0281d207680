package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.ObserveScreening(time.Now(), 2, 1)
	m.IncrementEventIngested("cyber")
	m.IncrementEventIngested("cyber")
	m.IncrementEventRejected("fraud")
	m.ObserveCorrelationPass(time.Now(), map[string]int{"TEMPORAL": 1, "BEHAVIORAL": 2})
	m.IncrementProfileUpdated("HIGH")
	m.IncrementAlertFired("high-risk-subject")
	m.ObserveHTTPRequest("GET", "/subjects/{id}/risk", 404, 3*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Screenings))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScreeningMatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScreeningSkipped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("cyber")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("fraud")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Correlations.WithLabelValues("BEHAVIORAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProfilesUpdated.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsFired.WithLabelValues("high-risk-subject")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/subjects/{id}/risk", "404")))
}

func TestIndependentInstances(t *testing.T) {
	a, b := New(), New()
	a.IncrementEventIngested("fraud")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.EventsIngested.WithLabelValues("fraud")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EventsIngested.WithLabelValues("fraud")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveScreening(time.Now(), 1, 0)
		m.IncrementEventIngested("cyber")
		m.IncrementEventRejected("cyber")
		m.ObserveCorrelationPass(time.Now(), map[string]int{"IOC": 1})
		m.IncrementProfileUpdated("LOW")
		m.IncrementAlertFired("x")
		m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)
	})
}

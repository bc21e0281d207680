// Package metrics holds the Prometheus instruments of the engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics tracks screening, correlation, ingestion and profile activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Screenings          prometheus.Counter
	ScreeningMatches    prometheus.Counter
	ScreeningSkipped    prometheus.Counter
	ScreeningDuration   prometheus.Histogram
	EventsIngested      *prometheus.CounterVec
	EventsRejected      *prometheus.CounterVec
	Correlations        *prometheus.CounterVec
	CorrelationDuration prometheus.Histogram
	ProfilesUpdated     *prometheus.CounterVec
	AlertsFired         *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New registers all instruments on a fresh registry, so independent
// instances never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Screenings: f.NewCounter(prometheus.CounterOpts{
			Name: "harrier_screenings_total",
			Help: "Total number of subjects screened",
		}),
		ScreeningMatches: f.NewCounter(prometheus.CounterOpts{
			Name: "harrier_screening_matches_total",
			Help: "Total number of admitted watchlist matches",
		}),
		ScreeningSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "harrier_screening_skipped_entries_total",
			Help: "Watchlist entries skipped during screening because of a blank name",
		}),
		ScreeningDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "harrier_screening_duration_seconds",
			Help:    "Duration of a single-subject screening",
			Buckets: durationBuckets,
		}),
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_events_ingested_total",
			Help: "Events stored, by kind",
		}, []string{"kind"}),
		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_events_rejected_total",
			Help: "Events rejected by validation, by kind",
		}, []string{"kind"}),
		Correlations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_correlations_total",
			Help: "Correlations persisted, by kind",
		}, []string{"kind"}),
		CorrelationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "harrier_correlation_pass_duration_seconds",
			Help:    "Duration of a correlation pass",
			Buckets: durationBuckets,
		}),
		ProfilesUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_profiles_updated_total",
			Help: "Risk profiles upserted, by resulting level",
		}, []string{"level"}),
		AlertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_alerts_fired_total",
			Help: "Alert rules fired, by rule",
		}, []string{"rule"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_http_requests_total",
			Help: "HTTP requests served, by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harrier_http_request_duration_seconds",
			Help:    "HTTP request latency, by route",
			Buckets: durationBuckets,
		}, []string{"route"}),
	}
}

// ObserveHTTPRequest records one served request. route is the matched
// route pattern, not the raw path.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveScreening records one screening call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveScreening(start time.Time, matches, skipped int) {
	if m == nil {
		return
	}
	m.Screenings.Inc()
	m.ScreeningMatches.Add(float64(matches))
	m.ScreeningSkipped.Add(float64(skipped))
	m.ScreeningDuration.Observe(time.Since(start).Seconds())
}

// IncrementEventIngested records a stored event.
func (m *Metrics) IncrementEventIngested(kind string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(kind).Inc()
}

// IncrementEventRejected records an event rejected by validation.
func (m *Metrics) IncrementEventRejected(kind string) {
	if m == nil {
		return
	}
	m.EventsRejected.WithLabelValues(kind).Inc()
}

// ObserveCorrelationPass records a committed pass and its output by kind.
func (m *Metrics) ObserveCorrelationPass(start time.Time, byKind map[string]int) {
	if m == nil {
		return
	}
	for kind, n := range byKind {
		m.Correlations.WithLabelValues(kind).Add(float64(n))
	}
	m.CorrelationDuration.Observe(time.Since(start).Seconds())
}

// IncrementProfileUpdated records a profile upsert.
func (m *Metrics) IncrementProfileUpdated(level string) {
	if m == nil {
		return
	}
	m.ProfilesUpdated.WithLabelValues(level).Inc()
}

// IncrementAlertFired records a fired alert rule.
func (m *Metrics) IncrementAlertFired(ruleID string) {
	if m == nil {
		return
	}
	m.AlertsFired.WithLabelValues(ruleID).Inc()
}

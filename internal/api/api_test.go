package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/correlation"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/events"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/patterns"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/risk"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/screening"
	"github.com/opensource-finance/harrier/internal/watchlist"
)

type testServer struct {
	*Server
	bus *bus.ChannelBus
}

// newTestServer wires the full community stack over a temporary SQLite file.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := domain.DefaultConfig()
	log := logger.NewNop()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(50, log)
	t.Cleanup(func() { b.Close() })

	m := metrics.New()

	engine, err := rules.NewEngine(2)
	require.NoError(t, err)
	require.NoError(t, engine.LoadRules(rules.DefaultRules()))

	wl := watchlist.NewStore(repo, log)
	screener := screening.NewService(cfg.Screening, wl, repo, log, m)
	store := events.NewStore(repo, nil, b, time.Hour, log, m)
	agg := risk.NewAggregator(cfg.Risk, store, repo, patterns.NewDetector(nil),
		rules.NewDispatcher(engine, b, log, m), b, log, m)

	svc := Services{
		Repo:        repo,
		Bus:         b,
		Watchlist:   wl,
		Screening:   screener,
		Events:      store,
		Correlation: correlation.NewEngine(cfg.Correlation, store, repo, b, log, m),
		Risk:        agg,
		Onboarder:   risk.NewOnboarder(screener, agg),
		Alerts:      engine,
		Metrics:     m,
	}

	return &testServer{
		Server: NewServer(domain.ServerConfig{Host: "localhost", Port: 8080}, svc, log, "test-v1"),
		bus:    b,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
	health := decodeBody[map[string]string](t, rr)
	assert.Equal(t, "test-v1", health["version"])

	rr = s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	t.Run("closed bus is not ready", func(t *testing.T) {
		require.NoError(t, s.bus.Close())
		rr := s.do(t, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestCUST001EndToEnd(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()

	rr := s.do(t, http.MethodPost, "/events/cyber", domain.CyberEvent{
		SubjectID:  "CUST001",
		EventType:  "phishing",
		Severity:   domain.SeverityHigh,
		DetectedAt: now.Add(-3 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	cyber := decodeBody[domain.CyberEvent](t, rr)
	assert.NotEmpty(t, cyber.ID)

	rr = s.do(t, http.MethodPost, "/events/fraud", domain.FraudEvent{
		SubjectID:  "CUST001",
		EventType:  "unauthorized_transfer",
		Payload:    "transfer to new payee",
		DetectedAt: now.Add(-2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	t.Run("correlation pass", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/correlations/run", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		res := decodeBody[correlation.PassResult](t, rr)
		require.Len(t, res.Correlations, 2)
		assert.Equal(t, domain.KindTemporal, res.Correlations[0].Kind)
		assert.Equal(t, 0.78, res.Correlations[0].Confidence)
		assert.Equal(t, domain.KindBehavioral, res.Correlations[1].Kind)
		assert.Equal(t, 0.4, res.Correlations[1].Confidence)

		rr = s.do(t, http.MethodGet, "/subjects/CUST001/correlations", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decodeBody[[]*domain.Correlation](t, rr), 2)

		rr = s.do(t, http.MethodGet, "/correlations/report?days=7", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		report := decodeBody[domain.CorrelationReport](t, rr)
		assert.Equal(t, 7, report.PeriodDays)
		assert.Equal(t, 2, report.TotalCorrelations)
	})

	t.Run("risk refresh", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/subjects/CUST001/risk", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		p := decodeBody[domain.RiskProfile](t, rr)
		assert.Equal(t, 60.0, p.CompositeRiskScore)
		assert.Equal(t, domain.RiskMedium, p.RiskLevel)

		rr = s.do(t, http.MethodGet, "/subjects/CUST001/risk", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, domain.RiskMedium, decodeBody[domain.RiskProfile](t, rr).RiskLevel)
	})

	t.Run("watchlist hit forces HIGH", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/watchlists", []*domain.WatchlistEntry{
			{Source: "UN", Name: "Kim Chol", Nationality: domain.StringPtr("KP")},
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, 1, decodeBody[domain.IngestReport](t, rr).Accepted)

		rr = s.do(t, http.MethodPost, "/screenings", domain.SubjectRecord{
			SubjectID:   "CUST001",
			Name:        "Kim Chol",
			Nationality: domain.StringPtr("KP"),
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		screened := decodeBody[ScreenResponse](t, rr)
		require.Len(t, screened.Results, 1)
		assert.InDelta(t, 0.8, screened.Results[0].MatchScore, 1e-9)

		rr = s.do(t, http.MethodPost, "/subjects/CUST001/risk", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		p := decodeBody[domain.RiskProfile](t, rr)
		assert.Equal(t, domain.RiskHigh, p.RiskLevel)
		assert.InDelta(t, 80.0, p.CompositeRiskScore, 1e-9)

		rr = s.do(t, http.MethodGet, "/subjects/CUST001/screenings?limit=10", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decodeBody[[]*domain.ScreeningResult](t, rr), 1)
	})
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		field  string
	}{
		{"missing subject on cyber event", http.MethodPost, "/events/cyber", domain.CyberEvent{EventType: "phishing"}, http.StatusBadRequest, "subjectId"},
		{"missing subject on screening", http.MethodPost, "/screenings", domain.SubjectRecord{Name: "No Id"}, http.StatusBadRequest, "subjectId"},
		{"negative limit", http.MethodGet, "/subjects/S1/screenings?limit=-1", nil, http.StatusBadRequest, "limit"},
		{"bad days", http.MethodGet, "/correlations/report?days=week", nil, http.StatusBadRequest, "days"},
		{"blank analysis text", http.MethodPost, "/patterns/analyze", AnalyzeRequest{}, http.StatusBadRequest, "text"},
		{"unknown profile", http.MethodGet, "/subjects/NOBODY/risk", nil, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			resp := decodeBody[errorResponse](t, rr)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}

	t.Run("duplicate event id", func(t *testing.T) {
		ev := domain.FraudEvent{ID: "F-dup", SubjectID: "S1", EventType: "ato", DetectedAt: time.Now().UTC()}
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/events/fraud", ev).Code)

		rr := s.do(t, http.MethodPost, "/events/fraud", ev)
		require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		resp := decodeBody[errorResponse](t, rr)
		assert.Equal(t, "id", resp.Field)
		assert.Equal(t, "F-dup", resp.Record)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/events/fraud", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestIngestBatchReportsRejects(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()

	rr := s.do(t, http.MethodPost, "/events/batch", events.Batch{
		Cyber: []*domain.CyberEvent{
			{SubjectID: "S1", EventType: "malware", Severity: domain.SeverityLow, DetectedAt: now},
			{EventType: "malware", DetectedAt: now},
		},
		Fraud: []*domain.FraudEvent{
			{SubjectID: "S1", EventType: "chargeback", DetectedAt: now},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	report := decodeBody[domain.IngestReport](t, rr)
	assert.Equal(t, 2, report.Accepted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "subjectId", report.Rejected[0].Field)
}

func TestAsyncCorrelationRequest(t *testing.T) {
	s := newTestServer(t)

	requested := make(chan struct{}, 1)
	_, err := s.bus.Subscribe(context.Background(), domain.TopicCorrelationRequested, func(ctx context.Context, msg *domain.Message) error {
		requested <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	rr := s.do(t, http.MethodPost, "/correlations/run?async=true", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	select {
	case <-requested:
	case <-time.After(time.Second):
		t.Fatal("correlation request was not published")
	}
}

func TestAnalyzePatterns(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/patterns/analyze", AnalyzeRequest{
		Text: "Ransomware campaign targeting bank transfers from 203.0.113.7, see CVE-2024-1234",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeBody[AnalyzeResponse](t, rr)
	require.NotEmpty(t, resp.Patterns)
	assert.Greater(t, resp.RiskScore, 0.0)
	assert.Equal(t, []string{"203.0.113.7"}, resp.Indicators.IPs)
	assert.Equal(t, []string{"CVE-2024-1234"}, resp.Indicators.CVEs)
}

func TestOnboardAndAlertRules(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/alerts/rules", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	loaded := decodeBody[[]domain.AlertRuleConfig](t, rr)
	require.Len(t, loaded, 1)
	assert.Equal(t, rules.DefaultRuleID, loaded[0].ID)

	rr = s.do(t, http.MethodPost, "/onboarding", OnboardRequest{
		Subject: &domain.SubjectRecord{SubjectID: "NEW002", Name: "Jane Doe"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decodeBody[risk.OnboardingResult](t, rr)
	assert.Equal(t, "NEW002", res.SubjectID)
	require.NotNil(t, res.Profile)
	assert.Equal(t, domain.RiskLow, res.Profile.RiskLevel)

	rr = s.do(t, http.MethodPost, "/onboarding", OnboardRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/events/cyber", domain.CyberEvent{
		SubjectID: "S1", EventType: "phishing", DetectedAt: time.Now().UTC(),
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "harrier_events_ingested_total")
	assert.Contains(t, rr.Body.String(), `harrier_http_requests_total{method="POST",route="/events/cyber",status="201"} 1`)
}

func TestTracingContinuesCallerTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", rr.Header().Get(TraceIDHeader))
	assert.Equal(t, "req-42", rr.Header().Get(RequestIDHeader))

	// Without a caller trace or an SDK provider the request ID stands in.
	rr = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, rr.Header().Get(RequestIDHeader), rr.Header().Get(TraceIDHeader))
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal server error", decodeBody[errorResponse](t, rr).Error)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/screenings", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/harrier/internal/correlation"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/events"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/risk"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/screening"
	"github.com/opensource-finance/harrier/internal/watchlist"
)

// Services are the components served over HTTP. Cache, Bus, Alerts and
// Metrics may be nil.
type Services struct {
	Repo        domain.Repository
	Cache       domain.Cache
	Bus         domain.EventBus
	Watchlist   *watchlist.Store
	Screening   *screening.Service
	Events      *events.Store
	Correlation *correlation.Engine
	Risk        *risk.Aggregator
	Onboarder   *risk.Onboarder
	Alerts      *rules.Engine
	Metrics     *metrics.Metrics
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc Services, log *logger.Logger, version string) *Server {
	log = log.Named("api")
	handler := NewHandler(svc, log, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware(log))
	router.Use(TracingMiddleware)
	router.Use(AccessMiddleware(log, svc.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if svc.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(svc.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// Watchlists
	router.Post("/watchlists", handler.UpsertWatchlist)
	router.Put("/watchlists/{source}", handler.ReplaceWatchlistSource)
	router.Get("/watchlists/stats", handler.ScreeningStats)

	// Screening
	router.Post("/screenings", handler.Screen)
	router.Post("/screenings/batch", handler.ScreenBatch)
	router.Delete("/screenings", handler.PurgeScreenings)

	// Events
	router.Post("/events/cyber", handler.IngestCyber)
	router.Post("/events/fraud", handler.IngestFraud)
	router.Post("/events/batch", handler.IngestBatch)

	// Correlation
	router.Post("/correlations/run", handler.RunCorrelation)
	router.Get("/correlations/report", handler.CorrelationReport)

	// Subjects
	router.Route("/subjects/{id}", func(r chi.Router) {
		r.Get("/screenings", handler.ScreeningHistory)
		r.Get("/correlations", handler.CorrelationHistory)
		r.Post("/risk", handler.RefreshRisk)
		r.Get("/risk", handler.GetRisk)
	})

	router.Post("/onboarding", handler.Onboard)
	router.Post("/patterns/analyze", handler.AnalyzePatterns)
	router.Get("/alerts/rules", handler.ListAlertRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Harrier - Identity and event risk correlation.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
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
	"github.com/opensource-finance/harrier/internal/tracing"
	"github.com/opensource-finance/harrier/internal/watchlist"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("HARRIER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("harrier", cfg.Logging.Environment, cfg.Logging.Level == "debug")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting harrier",
		logger.StringField("version", Version),
		logger.StringField("commit", Commit),
		logger.StringField("build_date", BuildDate),
	)
	log.Info("configuration loaded",
		logger.StringField("tier", string(cfg.Tier)),
		logger.StringField("repository", cfg.Repository.Driver),
		logger.StringField("cache", cfg.Cache.Type),
		logger.StringField("eventbus", cfg.EventBus.Type),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", logger.StringField("signal", sig.String()))
		cancel()
	}()

	shutdownTracing, err := tracing.Setup(cfg.Tracing, Version)
	if err != nil {
		log.Fatal("failed to initialize tracing", logger.ErrorField(err))
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		log.Fatal("failed to initialize repository", logger.ErrorField(err))
	}
	defer repo.Close()
	log.Info("repository initialized", logger.StringField("driver", cfg.Repository.Driver))

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatal("failed to initialize cache", logger.ErrorField(err))
	}
	defer cacheImpl.Close()
	log.Info("cache initialized", logger.StringField("type", cfg.Cache.Type))

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", logger.ErrorField(err))
	}
	defer busImpl.Close()
	log.Info("event bus initialized", logger.StringField("type", cfg.EventBus.Type))

	m := metrics.New()

	// Alert rules from configuration, or the built-in high risk rule
	engine, err := rules.NewEngine(0)
	if err != nil {
		log.Fatal("failed to initialize rule engine", logger.ErrorField(err))
	}
	alertRules := cfg.Alerts.Rules
	if len(alertRules) == 0 {
		alertRules = rules.DefaultRules()
	}
	if err := engine.LoadRules(alertRules); err != nil {
		log.Fatal("failed to load alert rules", logger.ErrorField(err))
	}
	log.Info("rule engine initialized", logger.IntField("rules_count", engine.RulesCount()))

	wl := watchlist.NewStore(repo, log)
	screener := screening.NewService(cfg.Screening, wl, repo, log, m)
	store := events.NewStore(repo, cacheImpl, busImpl, cfg.Cache.IOCTTL, log, m)
	correlator := correlation.NewEngine(cfg.Correlation, store, repo, busImpl, log, m)
	dispatcher := rules.NewDispatcher(engine, busImpl, log, m)
	aggregator := risk.NewAggregator(cfg.Risk, store, repo, patterns.NewDetector(nil), dispatcher, busImpl, log, m)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, aggregator, correlator, log)
		if err := asyncWorker.Start(ctx); err != nil {
			log.Error("failed to start async worker", logger.ErrorField(err))
			asyncWorker = nil
		} else {
			log.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Services{
		Repo:        repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Watchlist:   wl,
		Screening:   screener,
		Events:      store,
		Correlation: correlator,
		Risk:        aggregator,
		Onboarder:   risk.NewOnboarder(screener, aggregator),
		Alerts:      engine,
		Metrics:     m,
	}, log, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", logger.ErrorField(err))
			cancel()
		}
	}()

	log.Info("harrier is ready",
		logger.StringField("host", cfg.Server.Host),
		logger.IntField("port", cfg.Server.Port),
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			log.Error("failed to stop async worker", logger.ErrorField(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logger.ErrorField(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", logger.ErrorField(err))
	}

	log.Info("harrier shutdown complete")
}

func printBanner(cfg domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HARRIER")
	fmt.Println("  Identity and event risk correlation")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /watchlists                 - Upsert watchlist entries")
	fmt.Println("    PUT  /watchlists/{source}        - Replace one source")
	fmt.Println("    POST /screenings                 - Screen a subject")
	fmt.Println("    POST /events/cyber               - Ingest a cyber event")
	fmt.Println("    POST /events/fraud               - Ingest a fraud event")
	fmt.Println("    POST /correlations/run           - Run a correlation pass")
	fmt.Println("    GET  /correlations/report        - Correlation report")
	fmt.Println("    POST /subjects/{id}/risk         - Refresh a risk profile")
	fmt.Println("    POST /onboarding                 - Screen and assess a new subject")
	fmt.Println("    GET  /health                     - Health check")
	fmt.Println()
}

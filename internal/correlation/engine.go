// Package correlation links cyber and fraud events into confidence-scored
// correlations.
package correlation

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/events"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/metrics"
)

var tracer = otel.Tracer("harrier-correlation")

// Engine runs correlation passes over the event window and persists the
// findings.
type Engine struct {
	cfg         domain.CorrelationConfig
	events      *events.Store
	repo        domain.Repository
	bus         domain.EventBus
	correlators []Correlator
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewEngine creates an engine with the temporal, behavioral and IOC
// correlators, run in that order. bus and metrics may be nil.
func NewEngine(cfg domain.CorrelationConfig, store *events.Store, repo domain.Repository, bus domain.EventBus, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:    cfg,
		events: store,
		repo:   repo,
		bus:    bus,
		correlators: []Correlator{
			Temporal{MaxHours: cfg.TemporalMaxHours},
			Behavioral{},
			IOC{},
		},
		logger:  log.Named("correlation"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PassResult summarizes one committed pass.
type PassResult struct {
	From         time.Time                      `json:"from"`
	To           time.Time                      `json:"to"`
	CyberEvents  int                            `json:"cyberEvents"`
	FraudEvents  int                            `json:"fraudEvents"`
	ByKind       map[domain.CorrelationKind]int `json:"byKind"`
	Correlations []*domain.Correlation          `json:"correlations"`
}

// Run correlates the events in [now-window, now]. Every finding is stored
// with status NEW in one transaction; on a store failure nothing is kept.
// Each pass appends new records and never alters earlier ones.
func (e *Engine) Run(ctx context.Context) (*PassResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "correlation.Run")
	defer span.End()

	start := time.Now()
	to := e.now()
	from := to.Add(-e.cfg.Window)

	w, err := e.events.Window(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "window read failed")
		return nil, err
	}

	snap := NewSnapshot(w.Cyber, w.Fraud,
		func(ev *domain.CyberEvent) []string { return e.events.CyberIOCs(ctx, ev) },
		func(ev *domain.FraudEvent) []string { return e.events.FraudIOCs(ctx, ev) },
	)

	var found []*domain.Correlation
	for _, c := range e.correlators {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found = append(found, c.Correlate(ctx, snap)...)
	}

	createdAt := e.now()
	byKind := make(map[domain.CorrelationKind]int)
	for _, c := range found {
		c.ID = uuid.New().String()
		c.CreatedAt = createdAt
		c.Status = domain.StatusNew
		if c.Factors == nil {
			c.Factors = []string{}
		}
		byKind[c.Kind]++
	}

	if err := e.repo.SaveCorrelations(ctx, found); err != nil {
		err = domain.NewStoreError("save correlations", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("cyber_events", len(w.Cyber)),
		attribute.Int("fraud_events", len(w.Fraud)),
		attribute.Int("correlations", len(found)),
	)

	counts := make(map[string]int, len(byKind))
	for k, n := range byKind {
		counts[string(k)] = n
	}
	e.metrics.ObserveCorrelationPass(start, counts)
	e.logger.CorrelationPassCompleted(len(w.Cyber), len(w.Fraud), counts, time.Since(start))

	e.announce(ctx, found)

	if found == nil {
		found = []*domain.Correlation{}
	}
	return &PassResult{
		From:         from,
		To:           to,
		CyberEvents:  len(w.Cyber),
		FraudEvents:  len(w.Fraud),
		ByKind:       byKind,
		Correlations: found,
	}, nil
}

// announce publishes the new correlation IDs per subject, in subject order.
func (e *Engine) announce(ctx context.Context, found []*domain.Correlation) {
	if e.bus == nil || len(found) == 0 {
		return
	}

	bySubject := make(map[string][]string)
	for _, c := range found {
		bySubject[c.SubjectID] = append(bySubject[c.SubjectID], c.ID)
	}
	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	for _, s := range subjects {
		payload, err := json.Marshal(domain.CorrelationCreatedPayload{SubjectID: s, IDs: bySubject[s]})
		if err != nil {
			continue
		}
		if err := e.bus.Publish(ctx, domain.TopicCorrelationCreated, payload); err != nil {
			e.logger.Warn("failed to publish correlation created",
				logger.StringField("subject_id", s),
				logger.ErrorField(err),
			)
		}
	}
}

// Report summarizes the correlations created in the last days days.
func (e *Engine) Report(ctx context.Context, days int) (*domain.CorrelationReport, error) {
	if days <= 0 {
		days = 30
	}
	now := e.now()
	since := now.AddDate(0, 0, -days)

	stats, err := e.repo.CorrelationStats(ctx, since)
	if err != nil {
		return nil, domain.NewStoreError("correlation stats", err)
	}
	high, err := e.repo.ListCorrelationsSince(ctx, since, e.cfg.ReportMinConfidence, e.cfg.ReportLimit)
	if err != nil {
		return nil, domain.NewStoreError("list high confidence correlations", err)
	}

	report := &domain.CorrelationReport{
		PeriodDays:          days,
		GeneratedAt:         now,
		Statistics:          make([]domain.CorrelationKindStats, 0, len(stats)),
		HighConfidence:      high,
		HighConfidenceCount: len(high),
	}
	if report.HighConfidence == nil {
		report.HighConfidence = []*domain.Correlation{}
	}
	for _, s := range stats {
		s.AvgConfidence = round2(s.AvgConfidence)
		report.Statistics = append(report.Statistics, s)
		report.TotalCorrelations += s.Count
	}
	return report, nil
}

// History returns a subject's most recent correlations. A non-positive
// limit uses the configured history limit.
func (e *Engine) History(ctx context.Context, subjectID string, limit int) ([]*domain.Correlation, error) {
	if subjectID == "" {
		return nil, &domain.ValidationError{Field: "subjectId", Reason: "is required"}
	}
	if limit <= 0 {
		limit = e.cfg.HistoryLimit
	}
	out, err := e.repo.ListCorrelationsBySubject(ctx, subjectID, limit)
	if err != nil {
		return nil, domain.NewStoreError("list correlations", err)
	}
	return out, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || e.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}

// Package risk aggregates screening, cyber and fraud signals into one
// composite risk profile per subject.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/events"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/patterns"
	"github.com/opensource-finance/harrier/internal/rules"
)

var tracer = otel.Tracer("harrier-risk")

// Aggregator owns risk profile writes.
type Aggregator struct {
	cfg      domain.RiskConfig
	events   *events.Store
	repo     domain.Repository
	detector *patterns.Detector
	alerts   *rules.Dispatcher
	bus      domain.EventBus
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewAggregator creates an aggregator. alerts, bus and metrics may be nil.
func NewAggregator(cfg domain.RiskConfig, store *events.Store, repo domain.Repository, detector *patterns.Detector, alerts *rules.Dispatcher, bus domain.EventBus, log *logger.Logger, m *metrics.Metrics) *Aggregator {
	if detector == nil {
		detector = patterns.NewDetector(nil)
	}
	return &Aggregator{
		cfg:      cfg,
		events:   store,
		repo:     repo,
		detector: detector,
		alerts:   alerts,
		bus:      bus,
		logger:   log.Named("risk"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AssessCyber scores a subject's cyber events over the lookback ending at
// now: min(count*10 + avgSeverityWeight*50, 100).
func (a *Aggregator) AssessCyber(ctx context.Context, subjectID string, now time.Time) (*domain.CyberAssessment, error) {
	if subjectID == "" {
		return nil, &domain.ValidationError{Field: "subjectId", Reason: "is required"}
	}

	evs, err := a.events.CyberBySubject(ctx, subjectID, now.Add(-a.cfg.CyberLookback))
	if err != nil {
		return nil, err
	}

	out := &domain.CyberAssessment{
		SubjectID:  subjectID,
		EventCount: len(evs),
		Factors:    []string{},
		AssessedAt: now,
	}
	if len(evs) > 0 {
		sum := 0.0
		for _, ev := range evs {
			sum += ev.Severity.Weight()
		}
		out.AvgSeverityWeight = round2(sum / float64(len(evs)))
		out.Score = round2(math.Min(float64(len(evs))*10+sum/float64(len(evs))*50, 100))
		out.Factors = []string{
			fmt.Sprintf("Recent cyber events: %d", len(evs)),
			fmt.Sprintf("Average severity: %.2f", out.AvgSeverityWeight),
		}
	}
	out.Level = domain.LevelFor(out.Score)
	return out, nil
}

// AssessFraud runs pattern detection over the payloads of a subject's fraud
// events in the lookback. The score is the mean detection confidence
// scaled to 100.
func (a *Aggregator) AssessFraud(ctx context.Context, subjectID string, now time.Time) (*domain.FraudAssessment, error) {
	if subjectID == "" {
		return nil, &domain.ValidationError{Field: "subjectId", Reason: "is required"}
	}

	evs, err := a.events.FraudBySubject(ctx, subjectID, now.Add(-a.cfg.FraudLookback))
	if err != nil {
		return nil, err
	}

	var detections []domain.PatternDetection
	for _, ev := range evs {
		detections = append(detections, a.detector.Detect(ev.Payload)...)
	}
	return fraudAssessment(subjectID, detections, now), nil
}

// AssessText scores free text, such as onboarding notes, the way
// AssessFraud scores event payloads.
func (a *Aggregator) AssessText(subjectID, text string, now time.Time) *domain.FraudAssessment {
	return fraudAssessment(subjectID, a.detector.Detect(text), now)
}

func fraudAssessment(subjectID string, detections []domain.PatternDetection, now time.Time) *domain.FraudAssessment {
	if detections == nil {
		detections = []domain.PatternDetection{}
	}
	return &domain.FraudAssessment{
		SubjectID:  subjectID,
		Score:      round2(math.Min(patterns.MeanConfidence(detections)*100, 100)),
		Patterns:   detections,
		AssessedAt: now,
	}
}

// UpdateProfile recomputes the subject's profile from the given signals and
// replaces the stored row. Nil assessments count as zero.
func (a *Aggregator) UpdateProfile(ctx context.Context, subjectID string, cyber *domain.CyberAssessment, fraud *domain.FraudAssessment, screening []*domain.ScreeningResult) (*domain.RiskProfile, error) {
	p, _, err := a.update(ctx, subjectID, cyber, fraud, screening)
	return p, err
}

func (a *Aggregator) update(ctx context.Context, subjectID string, cyber *domain.CyberAssessment, fraud *domain.FraudAssessment, screening []*domain.ScreeningResult) (*domain.RiskProfile, []rules.Firing, error) {
	if subjectID == "" {
		return nil, nil, &domain.ValidationError{Field: "subjectId", Reason: "is required"}
	}

	p := Compose(subjectID, cyber, fraud, screening, a.cfg.ScreeningOverride)
	p.LastUpdated = a.now()

	if err := a.repo.UpsertRiskProfile(ctx, p); err != nil {
		return nil, nil, domain.NewStoreError("upsert risk profile", err)
	}

	a.metrics.IncrementProfileUpdated(string(p.RiskLevel))
	a.logger.ProfileUpdated(p.SubjectID, p.CompositeRiskScore, string(p.RiskLevel))
	a.publish(ctx, p)

	var fired []rules.Firing
	if a.alerts != nil {
		fired = a.alerts.Dispatch(ctx, p)
	}
	return p, fired, nil
}

// Compose builds a profile from its constituent signals. The composite is
// the maximum of the cyber, fraud and screening scores, so it never
// decreases when an input grows. A screening match at or above override
// forces HIGH.
func Compose(subjectID string, cyber *domain.CyberAssessment, fraud *domain.FraudAssessment, screening []*domain.ScreeningResult, override float64) *domain.RiskProfile {
	p := &domain.RiskProfile{SubjectID: subjectID, Factors: []string{}}

	if cyber != nil {
		p.CyberRiskScore = cyber.Score
		if cyber.EventCount > 0 {
			p.Factors = append(p.Factors, cyber.Factors...)
		}
	}

	if fraud != nil {
		p.FraudRiskScore = fraud.Score
		p.Factors = append(p.Factors, patternFactors(fraud.Patterns)...)
	}

	best, overridden := 0.0, false
	for _, r := range screening {
		if r.MatchScore > best {
			best = r.MatchScore
		}
		if r.MatchScore >= override {
			overridden = true
		}
		p.Factors = append(p.Factors, fmt.Sprintf("Watchlist match: %s (%s) score %.2f",
			r.MatchedEntry.Name, r.MatchedEntry.Source, r.MatchScore))
	}
	p.ScreeningScore = round2(best * 100)

	p.CompositeRiskScore = math.Max(p.CyberRiskScore, math.Max(p.FraudRiskScore, p.ScreeningScore))
	p.RiskLevel = domain.LevelFor(p.CompositeRiskScore)
	if overridden {
		p.RiskLevel = domain.RiskHigh
		p.Factors = append(p.Factors, fmt.Sprintf("Watchlist match at or above %.2f forces HIGH", override))
	}
	return p
}

// patternFactors lists each detected pattern once with its highest
// confidence, in first-seen order.
func patternFactors(detections []domain.PatternDetection) []string {
	best := make(map[string]float64)
	var order []string
	for _, d := range detections {
		c, ok := best[d.Pattern]
		if !ok {
			order = append(order, d.Pattern)
		}
		if !ok || d.Confidence > c {
			best[d.Pattern] = d.Confidence
		}
	}

	out := make([]string, len(order))
	for i, name := range order {
		out[i] = fmt.Sprintf("Fraud pattern: %s (confidence %.2f)", name, best[name])
	}
	return out
}

func (a *Aggregator) publish(ctx context.Context, p *domain.RiskProfile) {
	if a.bus == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := a.bus.Publish(ctx, domain.TopicProfileUpdated, payload); err != nil {
		a.logger.Warn("failed to publish profile update",
			logger.StringField("subject_id", p.SubjectID),
			logger.ErrorField(err),
		)
	}
}

// Refresh reassesses a subject from its stored events and its latest
// screening run, then updates the profile.
func (a *Aggregator) Refresh(ctx context.Context, subjectID string) (*domain.RiskProfile, error) {
	if subjectID == "" {
		return nil, &domain.ValidationError{Field: "subjectId", Reason: "is required"}
	}

	ctx, span := tracer.Start(ctx, "risk.Refresh",
		trace.WithAttributes(attribute.String("subject.id", subjectID)),
	)
	defer span.End()

	now := a.now()
	var (
		cyber     *domain.CyberAssessment
		fraud     *domain.FraudAssessment
		screening []*domain.ScreeningResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cyber, err = a.AssessCyber(gctx, subjectID, now)
		return err
	})
	g.Go(func() error {
		var err error
		fraud, err = a.AssessFraud(gctx, subjectID, now)
		return err
	})
	g.Go(func() error {
		var err error
		screening, err = a.latestScreening(gctx, subjectID, now)
		return err
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment failed")
		return nil, err
	}

	p, err := a.UpdateProfile(ctx, subjectID, cyber, fraud, screening)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile update failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("composite_score", p.CompositeRiskScore),
		attribute.String("risk_level", string(p.RiskLevel)),
	)
	return p, nil
}

// latestScreening returns the results of the subject's most recent
// screening run within the lookback.
func (a *Aggregator) latestScreening(ctx context.Context, subjectID string, now time.Time) ([]*domain.ScreeningResult, error) {
	results, err := a.repo.ListScreeningResults(ctx, subjectID, now.Add(-a.cfg.ScreeningLookback), 0)
	if err != nil {
		return nil, domain.NewStoreError("list screening results", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	latest := results[0].ScreenedAt
	n := 0
	for n < len(results) && results[n].ScreenedAt.Equal(latest) {
		n++
	}
	return results[:n], nil
}

// Profile returns the stored profile, or domain.ErrNotFound.
func (a *Aggregator) Profile(ctx context.Context, subjectID string) (*domain.RiskProfile, error) {
	if subjectID == "" {
		return nil, &domain.ValidationError{Field: "subjectId", Reason: "is required"}
	}
	p, err := a.repo.GetRiskProfile(ctx, subjectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.NewStoreError("get risk profile", err)
	}
	return p, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

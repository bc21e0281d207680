// Package screening screens subject identities against the watchlist.
package screening

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/matcher"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/watchlist"
)

var tracer = otel.Tracer("harrier-screening")

// How often a shard checks for cancellation.
const cancelCheckEvery = 256

// Service screens subjects and persists every admitted match.
type Service struct {
	cfg       domain.ScreeningConfig
	watchlist *watchlist.Store
	repo      domain.Repository
	matcher   *matcher.Matcher
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	indexMu sync.Mutex
	index   *candidateIndex
}

// NewService creates a screening service. metrics may be nil.
func NewService(cfg domain.ScreeningConfig, store *watchlist.Store, repo domain.Repository, log *logger.Logger, m *metrics.Metrics) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		cfg:       cfg,
		watchlist: store,
		repo:      repo,
		matcher:   matcher.New(cfg.Weights, cfg.NameFieldThreshold),
		logger:    log.Named("screening"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type scored struct {
	entry  *domain.WatchlistEntry
	result matcher.Result
}

type shardOutput struct {
	matches []scored
	skipped int
	pruned  int
}

// Screen scores subject against every watchlist entry and returns the
// admitted matches ranked by score, then source and name. All results are
// persisted in one transaction.
func (s *Service) Screen(ctx context.Context, subject *domain.SubjectRecord) ([]*domain.ScreeningResult, error) {
	if subject == nil {
		return nil, &domain.ValidationError{Field: "subject", Reason: "is required"}
	}
	if err := subject.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "screening.Screen",
		trace.WithAttributes(
			attribute.String("subject.id", subject.SubjectID),
			attribute.String("index.mode", s.cfg.IndexMode),
		),
	)
	defer span.End()

	start := time.Now()

	snap, err := s.watchlist.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "watchlist snapshot failed")
		return nil, err
	}

	ranked, skipped, pruned, err := s.scan(ctx, subject, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, err
	}

	screenedAt := s.now()
	results := make([]*domain.ScreeningResult, len(ranked))
	for i, m := range ranked {
		fields := m.result.MatchedFields
		if fields == nil {
			fields = []string{}
		}
		results[i] = &domain.ScreeningResult{
			ID:            uuid.New().String(),
			SubjectID:     subject.SubjectID,
			MatchedEntry:  *m.entry,
			MatchScore:    m.result.Score,
			MatchedFields: fields,
			ScreenedAt:    screenedAt,
		}
	}

	if err := s.repo.SaveScreeningResults(ctx, results); err != nil {
		err = domain.NewStoreError("save screening results", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("entries", len(snap.Entries)),
		attribute.Int("matches", len(results)),
		attribute.Int("pruned", pruned),
	)
	s.metrics.ObserveScreening(start, len(results), skipped)
	s.logger.ScreeningCompleted(subject.SubjectID, len(snap.Entries), len(results), skipped, time.Since(start))

	return results, nil
}

// scan evaluates the snapshot in concurrent shards and returns the ranked
// admitted matches.
func (s *Service) scan(ctx context.Context, subject *domain.SubjectRecord, snap *watchlist.Snapshot) ([]scored, int, int, error) {
	idx := s.indexFor(snap)
	p := newQuery(subject)
	useBound := s.cfg.IndexMode == domain.IndexBound

	n := len(idx.candidates)
	workers := s.cfg.Workers
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (n + workers - 1) / workers

	outputs := make([]shardOutput, workers)
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		out := &outputs[w]

		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%cancelCheckEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}

				c := idx.candidates[i]
				if c.name == "" {
					out.skipped++
					s.logger.Debug("skipping watchlist entry with blank name",
						logger.StringField("source", c.entry.Source))
					continue
				}
				if useBound && prunable(s.cfg.Weights, s.cfg.AdmissionThreshold, p, c) {
					out.pruned++
					continue
				}

				res := s.matcher.Score(subject, c.entry)
				if res.Score >= s.cfg.AdmissionThreshold {
					out.matches = append(out.matches, scored{entry: c.entry, result: res})
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}

	var ranked []scored
	skipped, pruned := 0, 0
	for _, out := range outputs {
		ranked = append(ranked, out.matches...)
		skipped += out.skipped
		pruned += out.pruned
	}
	rank(ranked)

	return ranked, skipped, pruned, nil
}

func rank(matches []scored) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.entry.Source != b.entry.Source {
			return a.entry.Source < b.entry.Source
		}
		if a.entry.Name != b.entry.Name {
			return a.entry.Name < b.entry.Name
		}
		return a.entry.DOBKey() < b.entry.DOBKey()
	})
}

// indexFor returns the candidate index for the snapshot, rebuilding it when
// the watchlist version changed.
func (s *Service) indexFor(snap *watchlist.Snapshot) *candidateIndex {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if s.index == nil || s.index.version != snap.Version {
		s.index = buildIndex(snap.Version, snap.Entries)
	}
	return s.index
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// SubjectScreening is the outcome of one subject in a batch.
type SubjectScreening struct {
	SubjectID string                    `json:"subjectId"`
	Results   []*domain.ScreeningResult `json:"results"`
}

// BatchReport is the outcome of ScreenBatch. Screened keeps input order.
type BatchReport struct {
	Screened []SubjectScreening        `json:"screened"`
	Rejected []*domain.ValidationError `json:"rejected,omitempty"`
}

// ScreenBatch screens subjects concurrently. An invalid subject is reported
// and skipped; a store failure aborts the batch.
func (s *Service) ScreenBatch(ctx context.Context, subjects []*domain.SubjectRecord) (*BatchReport, error) {
	screened := make([]*SubjectScreening, len(subjects))
	rejected := make([]*domain.ValidationError, len(subjects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, subject := range subjects {
		g.Go(func() error {
			results, err := s.Screen(gctx, subject)
			var verr *domain.ValidationError
			switch {
			case errors.As(err, &verr):
				if subject != nil {
					verr.RecordID = subject.SubjectID
				}
				rejected[i] = verr
				s.logger.RecordRejected("subject", verr)
				return nil
			case err != nil:
				return err
			}
			screened[i] = &SubjectScreening{SubjectID: subject.SubjectID, Results: results}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &BatchReport{Screened: []SubjectScreening{}}
	for i := range subjects {
		if screened[i] != nil {
			report.Screened = append(report.Screened, *screened[i])
		}
		if rejected[i] != nil {
			report.Rejected = append(report.Rejected, rejected[i])
		}
	}
	return report, nil
}

// History returns a subject's past screening results, newest first.
func (s *Service) History(ctx context.Context, subjectID string, limit int) ([]*domain.ScreeningResult, error) {
	if subjectID == "" {
		return nil, &domain.ValidationError{Field: "subjectId", Reason: "is required"}
	}
	results, err := s.repo.ListScreeningResults(ctx, subjectID, time.Time{}, limit)
	if err != nil {
		return nil, domain.NewStoreError("list screening results", err)
	}
	return results, nil
}

// Stats summarizes the watchlist and the last 24 hours of screening.
func (s *Service) Stats(ctx context.Context, now time.Time) (*domain.ScreeningStats, error) {
	total, err := s.watchlist.Count(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := s.watchlist.Sources(ctx)
	if err != nil {
		return nil, err
	}

	since := now.Add(-24 * time.Hour)
	screenings, err := s.repo.CountScreeningResults(ctx, since, 0)
	if err != nil {
		return nil, domain.NewStoreError("count screening results", err)
	}
	matches, err := s.repo.CountScreeningResults(ctx, since, s.cfg.AdmissionThreshold)
	if err != nil {
		return nil, domain.NewStoreError("count screening matches", err)
	}

	return &domain.ScreeningStats{
		TotalEntries:     total,
		Sources:          len(sources),
		ScreeningsLast24: screenings,
		MatchesLast24:    matches,
	}, nil
}

// Purge deletes screening results older than olderThan. A non-positive
// duration uses the configured retention.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.Retention
	}
	deleted, err := s.repo.DeleteScreeningResultsBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, domain.NewStoreError("purge screening results", err)
	}
	s.logger.Info("purged screening results",
		logger.DurationField("older_than", olderThan),
		logger.IntField("deleted", int(deleted)),
	)
	return deleted, nil
}

// Package watchlist manages normalized watchlist entries from many sources.
package watchlist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
)

// Snapshot is an immutable view of the watchlist at one version.
type Snapshot struct {
	Version uint64
	Entries []*domain.WatchlistEntry

	stamp domain.WatchlistStamp
}

// Store validates and persists watchlist entries and serves snapshots for
// screening. Snapshots are cached until the next local write or until the
// stored count or newest update time moves, which covers writes made by
// other processes sharing the database.
type Store struct {
	repo   domain.Repository
	logger *logger.Logger
	now    func() time.Time

	mu       sync.RWMutex
	version  uint64
	snapshot *Snapshot
}

// NewStore creates a watchlist store over repo.
func NewStore(repo domain.Repository, log *logger.Logger) *Store {
	return &Store{
		repo:    repo,
		logger:  log.Named("watchlist"),
		now:     func() time.Time { return time.Now().UTC() },
		version: 1,
	}
}

// Upsert writes the valid entries in one transaction, last write wins on
// (source, name, dob). Invalid entries are reported and skipped.
func (s *Store) Upsert(ctx context.Context, entries []*domain.WatchlistEntry) (*domain.IngestReport, error) {
	valid, report := s.prepare("", entries)
	if len(valid) == 0 {
		return report, nil
	}

	if err := s.repo.UpsertWatchlistEntries(ctx, valid); err != nil {
		return nil, domain.NewStoreError("upsert watchlist entries", err)
	}
	s.invalidate()

	report.Accepted = len(valid)
	return report, nil
}

// ReplaceSource atomically replaces every entry of source. Screening never
// observes a partially replaced source. Entries without a source inherit it.
func (s *Store) ReplaceSource(ctx context.Context, source string, entries []*domain.WatchlistEntry) (*domain.IngestReport, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, &domain.ValidationError{Field: "source", Reason: "is required"}
	}

	valid, report := s.prepare(source, entries)
	if err := s.repo.ReplaceWatchlistSource(ctx, source, valid); err != nil {
		return nil, domain.NewStoreError("replace watchlist source", err)
	}
	s.invalidate()

	report.Accepted = len(valid)
	s.logger.Info("watchlist source replaced",
		logger.StringField("source", source),
		logger.IntField("accepted", report.Accepted),
		logger.IntField("rejected", len(report.Rejected)),
	)
	return report, nil
}

func (s *Store) prepare(source string, entries []*domain.WatchlistEntry) ([]*domain.WatchlistEntry, *domain.IngestReport) {
	report := &domain.IngestReport{}
	now := s.now()

	valid := make([]*domain.WatchlistEntry, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		if source != "" {
			if strings.TrimSpace(e.Source) == "" {
				e.Source = source
			} else if e.Source != source {
				s.reject(report, &domain.ValidationError{Field: "source", Reason: "does not match " + source, RecordID: e.Name})
				continue
			}
		}
		if err := e.Validate(); err != nil {
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				verr = &domain.ValidationError{Field: "entry", Reason: err.Error(), RecordID: e.Name}
			}
			s.reject(report, verr)
			continue
		}

		e.Name = strings.TrimSpace(e.Name)
		if e.EntityType == "" {
			e.EntityType = domain.EntityIndividual
		}
		if e.ListingDate.IsZero() {
			e.ListingDate = now
		}
		e.UpdatedAt = now
		valid = append(valid, e)
	}
	return valid, report
}

func (s *Store) reject(report *domain.IngestReport, verr *domain.ValidationError) {
	report.Rejected = append(report.Rejected, verr)
	s.logger.RecordRejected("watchlist_entry", verr)
}

// Snapshot returns the current watchlist. The result must not be modified.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	stamp, err := s.repo.WatchlistStamp(ctx)
	if err != nil {
		return nil, domain.NewStoreError("stamp watchlist", err)
	}

	s.mu.RLock()
	snap, version := s.snapshot, s.version
	s.mu.RUnlock()
	if snap != nil && snap.stamp == stamp {
		return snap, nil
	}
	if snap != nil {
		s.logger.Debug("watchlist changed in store, reloading")
		s.invalidate()
		s.mu.RLock()
		version = s.version
		s.mu.RUnlock()
	}

	entries, err := s.repo.ListWatchlistEntries(ctx)
	if err != nil {
		return nil, domain.NewStoreError("list watchlist entries", err)
	}
	snap = &Snapshot{Version: version, Entries: entries, stamp: stamp}

	s.mu.Lock()
	// A write during the load leaves the cache empty for the next caller.
	if s.version == version {
		s.snapshot = snap
	}
	s.mu.Unlock()

	return snap, nil
}

// All returns every entry.
func (s *Store) All(ctx context.Context) ([]*domain.WatchlistEntry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

// Count returns the number of entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(snap.Entries), nil
}

// Sources returns the distinct list sources.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	sources, err := s.repo.ListWatchlistSources(ctx)
	if err != nil {
		return nil, domain.NewStoreError("list watchlist sources", err)
	}
	return sources, nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.version++
	s.snapshot = nil
	s.mu.Unlock()
}

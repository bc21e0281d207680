package screening

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/watchlist"
)

type fixture struct {
	repo  *repository.SQLRepository
	store *watchlist.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "screening.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return &fixture{repo: repo, store: watchlist.NewStore(repo, logger.NewNop())}
}

func (f *fixture) service(mode string) *Service {
	cfg := domain.DefaultConfig().Screening
	cfg.IndexMode = mode
	return NewService(cfg, f.store, f.repo, logger.NewNop(), nil)
}

func (f *fixture) load(t *testing.T, entries ...*domain.WatchlistEntry) {
	t.Helper()
	_, err := f.store.Upsert(context.Background(), entries)
	require.NoError(t, err)
}

func TestScreen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.load(t,
		&domain.WatchlistEntry{Source: "UN", Name: "Kim Chol", Nationality: domain.StringPtr("KP"), DateOfBirth: domain.StringPtr("1960-05-05")},
		&domain.WatchlistEntry{Source: "OFAC", Name: "Kim Chol", Nationality: domain.StringPtr("KP")},
		&domain.WatchlistEntry{Source: "EU", Name: "Kim Chol"},
		&domain.WatchlistEntry{Source: "EU", Name: "Ivan Petrov", Nationality: domain.StringPtr("RU")},
	)
	svc := f.service(domain.IndexBound)

	subject := &domain.SubjectRecord{
		SubjectID:   "CUST001",
		Name:        "kim chol",
		Nationality: domain.StringPtr("KP"),
		DateOfBirth: domain.StringPtr("1960-01-01"),
	}

	results, err := svc.Screen(ctx, subject)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "UN", results[0].MatchedEntry.Source)
	assert.Equal(t, 1.0, results[0].MatchScore)
	assert.Equal(t, []string{"name", "nationality", "dob"}, results[0].MatchedFields)

	assert.Equal(t, "OFAC", results[1].MatchedEntry.Source)
	assert.InDelta(t, 0.8, results[1].MatchScore, 1e-9)

	for _, r := range results {
		assert.Equal(t, "CUST001", r.SubjectID)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.ScreenedAt.IsZero())
	}

	t.Run("results are persisted and never deduplicated", func(t *testing.T) {
		_, err := svc.Screen(ctx, subject)
		require.NoError(t, err)

		history, err := svc.History(ctx, "CUST001", 0)
		require.NoError(t, err)
		assert.Len(t, history, 4)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := svc.Stats(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalEntries)
		assert.Equal(t, 3, stats.Sources)
		assert.Equal(t, 4, stats.ScreeningsLast24)
		assert.Equal(t, 4, stats.MatchesLast24)
	})

	t.Run("purge", func(t *testing.T) {
		deleted, err := svc.Purge(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)

		svc.now = func() time.Time { return time.Now().UTC().Add(91 * 24 * time.Hour) }
		deleted, err = svc.Purge(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(4), deleted)
	})
}

func TestScreenValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.service(domain.IndexBound)

	_, err := svc.Screen(context.Background(), &domain.SubjectRecord{Name: "No Id"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Screen(context.Background(), nil)
	assert.True(t, domain.IsValidation(err))
}

func TestScreenNoFieldsNoMatch(t *testing.T) {
	f := newFixture(t)
	f.load(t, &domain.WatchlistEntry{Source: "UN", Name: "Kim Chol"})
	svc := f.service(domain.IndexNone)

	results, err := svc.Screen(context.Background(), &domain.SubjectRecord{SubjectID: "S-EMPTY"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestScreenSkipsBlankNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Bypass store validation to plant an entry with a blank name.
	require.NoError(t, f.repo.UpsertWatchlistEntries(ctx, []*domain.WatchlistEntry{
		{Source: "LEGACY", Name: "   ", Nationality: domain.StringPtr("KP"), ListingDate: time.Now(), UpdatedAt: time.Now()},
		{Source: "LEGACY", Name: "Kim Chol", Nationality: domain.StringPtr("KP"), ListingDate: time.Now(), UpdatedAt: time.Now()},
	}))

	for _, mode := range []string{domain.IndexNone, domain.IndexBound} {
		t.Run(mode, func(t *testing.T) {
			svc := f.service(mode)
			results, err := svc.Screen(ctx, &domain.SubjectRecord{SubjectID: "S1", Name: "Kim Chol", Nationality: domain.StringPtr("KP")})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "Kim Chol", results[0].MatchedEntry.Name)
		})
	}
}

func TestScreenStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.load(t, &domain.WatchlistEntry{Source: "UN", Name: "Kim Chol", Nationality: domain.StringPtr("KP")})
	svc := f.service(domain.IndexBound)

	// Warm the snapshot, then break the store.
	_, err := f.store.Count(ctx)
	require.NoError(t, err)
	require.NoError(t, f.repo.Close())

	_, err = svc.Screen(ctx, &domain.SubjectRecord{SubjectID: "S1", Name: "Kim Chol", Nationality: domain.StringPtr("KP")})
	require.Error(t, err)
	assert.True(t, domain.IsStore(err))
}

func TestScreenHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	f.load(t, &domain.WatchlistEntry{Source: "UN", Name: "Kim Chol"})
	svc := f.service(domain.IndexNone)

	_, err := f.store.Count(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Screen(ctx, &domain.SubjectRecord{SubjectID: "S1", Name: "Kim Chol"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScreenBatch(t *testing.T) {
	f := newFixture(t)
	f.load(t, &domain.WatchlistEntry{Source: "UN", Name: "Kim Chol", Nationality: domain.StringPtr("KP")})
	svc := f.service(domain.IndexBound)

	report, err := svc.ScreenBatch(context.Background(), []*domain.SubjectRecord{
		{SubjectID: "S1", Name: "Kim Chol", Nationality: domain.StringPtr("KP")},
		{Name: "Missing Id"},
		{SubjectID: "S3", Name: "Someone Else"},
	})
	require.NoError(t, err)

	require.Len(t, report.Screened, 2)
	assert.Equal(t, "S1", report.Screened[0].SubjectID)
	assert.Len(t, report.Screened[0].Results, 1)
	assert.Equal(t, "S3", report.Screened[1].SubjectID)
	assert.Empty(t, report.Screened[1].Results)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "subjectId", report.Rejected[0].Field)
}

// Bound-indexed screening must return exactly what the exhaustive scan does.
func TestBoundIndexMatchesExhaustiveScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rng := rand.New(rand.NewSource(42))
	first := []string{"ali", "kim", "ivan", "maria", "chen", "omar", "anna", "jose", "li", "sergei"}
	last := []string{"reza", "chol", "petrov", "garcia", "wei", "haddad", "ivanova", "silva", "na", "volkov"}
	nats := []string{"IR", "KP", "RU", "ES", "CN", "SY"}
	sources := []string{"UN", "OFAC", "EU"}

	var entries []*domain.WatchlistEntry
	for i := 0; i < 400; i++ {
		e := &domain.WatchlistEntry{
			Source: sources[rng.Intn(len(sources))],
			Name:   fmt.Sprintf("%s %s", first[rng.Intn(len(first))], last[rng.Intn(len(last))]),
		}
		if rng.Intn(3) > 0 {
			e.Nationality = domain.StringPtr(nats[rng.Intn(len(nats))])
		}
		if rng.Intn(2) == 0 {
			e.DateOfBirth = domain.StringPtr(fmt.Sprintf("19%02d-01-01", 50+rng.Intn(40)))
		}
		entries = append(entries, e)
	}
	f.load(t, entries...)

	exhaustive := f.service(domain.IndexNone)
	bounded := f.service(domain.IndexBound)

	for i := 0; i < 40; i++ {
		subject := &domain.SubjectRecord{
			SubjectID: fmt.Sprintf("S%d", i),
			Name:      fmt.Sprintf("%s %s", first[rng.Intn(len(first))], last[rng.Intn(len(last))]),
		}
		if rng.Intn(2) == 0 {
			subject.Nationality = domain.StringPtr(nats[rng.Intn(len(nats))])
		}
		if rng.Intn(2) == 0 {
			subject.DateOfBirth = domain.StringPtr(fmt.Sprintf("19%02d-06-06", 50+rng.Intn(40)))
		}

		want, err := exhaustive.Screen(ctx, subject)
		require.NoError(t, err)
		got, err := bounded.Screen(ctx, subject)
		require.NoError(t, err)

		assert.Equal(t, keys(want), keys(got), "subject %s (%s)", subject.SubjectID, subject.Name)
	}
}

func keys(results []*domain.ScreeningResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = fmt.Sprintf("%s|%s|%s|%.6f|%v", r.MatchedEntry.Source, r.MatchedEntry.Name, r.MatchedEntry.DOBKey(), r.MatchScore, r.MatchedFields)
	}
	return out
}

package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/repository"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo  *repository.SQLRepository
	cache *cache.LRUCache
	bus   *bus.ChannelBus
	store *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "events.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(10, logger.NewNop())
	t.Cleanup(func() { b.Close() })

	return &fixture{
		repo:  repo,
		cache: c,
		bus:   b,
		store: NewStore(repo, c, b, time.Hour, logger.NewNop(), nil),
	}
}

func TestIngestCyber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	notices := make(chan domain.EventIngestedPayload, 1)
	_, err := f.bus.Subscribe(ctx, domain.TopicEventIngested, func(ctx context.Context, msg *domain.Message) error {
		var p domain.EventIngestedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		notices <- p
		return nil
	})
	require.NoError(t, err)

	ev, err := f.store.IngestCyber(ctx, &domain.CyberEvent{
		SubjectID:  "CUST001",
		EventType:  "phishing",
		Payload:    "Credential phishing from 192.168.1.100 via Evil.com",
		Severity:   "high",
		DetectedAt: base,
		Source:     "siem",
		RawIOCs:    `["abc.example.net"]`,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, domain.SeverityHigh, ev.Severity)
	assert.Equal(t, []string{"192.168.1.100", "abc.example.net", "evil.com"}, ev.IOCs)

	cached, ok, err := cache.GetStrings(ctx, f.cache, cache.IOCKey(domain.EventCyber, ev.ID))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ev.IOCs, cached)

	stored, err := f.repo.ListCyberEventsBySubject(ctx, "CUST001", time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, ev.ID, stored[0].ID)
	assert.Equal(t, ev.IOCs, stored[0].IOCs)

	select {
	case p := <-notices:
		assert.Equal(t, ev.ID, p.EventID)
		assert.Equal(t, domain.EventCyber, p.Kind)
		assert.Equal(t, "CUST001", p.SubjectID)
	case <-time.After(time.Second):
		t.Fatal("no ingestion notice published")
	}
}

func TestIngestKeepsCallerID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ev, err := f.store.IngestFraud(ctx, &domain.FraudEvent{
		ID:         "F-1",
		SubjectID:  "CUST001",
		EventType:  "account_takeover",
		Payload:    "payout to 198.51.100.1",
		RiskScore:  0.9,
		DetectedAt: base,
	})
	require.NoError(t, err)
	assert.Equal(t, "F-1", ev.ID)
	assert.Equal(t, []string{"198.51.100.1"}, ev.IOCs)

	t.Run("duplicate is rejected and leaves the stored event alone", func(t *testing.T) {
		_, err := f.store.IngestFraud(ctx, &domain.FraudEvent{
			ID:         "F-1",
			SubjectID:  "CUST002",
			EventType:  "duplicate",
			Payload:    "retry via 203.0.113.9",
			DetectedAt: base,
		})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "id", verr.Field)
		assert.Equal(t, "F-1", verr.RecordID)
		assert.False(t, domain.IsStore(err))

		stored, err := f.repo.ListFraudEventsBySubject(ctx, "CUST001", time.Time{})
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, "account_takeover", stored[0].EventType)
		assert.Equal(t, []string{"198.51.100.1"}, f.store.FraudIOCs(ctx, stored[0]))
	})

	t.Run("cyber and fraud ids are separate", func(t *testing.T) {
		cyber, err := f.store.IngestCyber(ctx, &domain.CyberEvent{
			ID:         "F-1",
			SubjectID:  "CUST003",
			EventType:  "c2",
			Payload:    "beacon to 192.0.2.44",
			DetectedAt: base,
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"192.0.2.44"}, f.store.CyberIOCs(ctx, cyber))
		assert.Equal(t, []string{"198.51.100.1"}, f.store.FraudIOCs(ctx, ev))
	})
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		ev    *domain.FraudEvent
		field string
	}{
		{"missing subject", &domain.FraudEvent{EventType: "x", DetectedAt: base}, "subjectId"},
		{"missing type", &domain.FraudEvent{SubjectID: "S", DetectedAt: base}, "eventType"},
		{"missing time", &domain.FraudEvent{SubjectID: "S", EventType: "x"}, "detectedAt"},
		{"risk out of range", &domain.FraudEvent{SubjectID: "S", EventType: "x", DetectedAt: base, RiskScore: 1.5}, "riskScore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.IngestFraud(ctx, tt.ev)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestMalformedStructuredIOCsAreSkipped(t *testing.T) {
	f := newFixture(t)

	ev, err := f.store.IngestCyber(context.Background(), &domain.CyberEvent{
		SubjectID:  "S",
		EventType:  "malware",
		Payload:    "beacon to 10.0.0.1",
		DetectedAt: base,
		RawIOCs:    `{not json`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1"}, ev.IOCs)
}

func TestIngestBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.store.IngestBatch(ctx, Batch{
		Cyber: []*domain.CyberEvent{
			{SubjectID: "S1", EventType: "phishing", DetectedAt: base},
			{SubjectID: "", EventType: "phishing", DetectedAt: base},
		},
		Fraud: []*domain.FraudEvent{
			{SubjectID: "S1", EventType: "ato", DetectedAt: base.Add(time.Hour)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Accepted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "subjectId", report.Rejected[0].Field)

	t.Run("duplicate ids are rejected per record", func(t *testing.T) {
		_, err := f.store.IngestFraud(ctx, &domain.FraudEvent{
			ID: "F-0", SubjectID: "S2", EventType: "ato", Payload: "to 198.51.100.7", DetectedAt: base,
		})
		require.NoError(t, err)

		report, err := f.store.IngestBatch(ctx, Batch{
			Fraud: []*domain.FraudEvent{
				{ID: "F-1", SubjectID: "S2", EventType: "ato", DetectedAt: base},
				{ID: "F-1", SubjectID: "S2", EventType: "ato", DetectedAt: base},
				{ID: "F-2", SubjectID: "S2", EventType: "ato", DetectedAt: base},
				{ID: "F-0", SubjectID: "S2", EventType: "ato", Payload: "to 203.0.113.9", DetectedAt: base},
				{ID: "F-3", SubjectID: "S2", EventType: "ato", DetectedAt: base},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, report.Accepted)
		require.Len(t, report.Rejected, 2)
		assert.Equal(t, "F-1", report.Rejected[0].RecordID)
		assert.Equal(t, "F-0", report.Rejected[1].RecordID)
		assert.Equal(t, "id", report.Rejected[1].Field)

		stored, err := f.repo.ListFraudEventsBySubject(ctx, "S2", time.Time{})
		require.NoError(t, err)
		assert.Len(t, stored, 4)

		cached, ok, err := cache.GetStrings(ctx, f.cache, cache.IOCKey(domain.EventFraud, "F-0"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"198.51.100.7"}, cached)
	})

	t.Run("store failure stops the batch", func(t *testing.T) {
		require.NoError(t, f.repo.Close())
		_, err := f.store.IngestBatch(ctx, Batch{
			Cyber: []*domain.CyberEvent{{SubjectID: "S1", EventType: "phishing", DetectedAt: base}},
		})
		assert.True(t, domain.IsStore(err))
	})
}

func TestWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i, at := range []time.Time{base.Add(-48 * time.Hour), base, base.Add(48 * time.Hour)} {
		_, err := f.store.IngestCyber(ctx, &domain.CyberEvent{SubjectID: "S", EventType: "scan", DetectedAt: at})
		require.NoError(t, err, i)
		_, err = f.store.IngestFraud(ctx, &domain.FraudEvent{SubjectID: "S", EventType: "ato", DetectedAt: at})
		require.NoError(t, err, i)
	}

	w, err := f.store.Window(ctx, base.Add(-48*time.Hour), base)
	require.NoError(t, err)
	assert.Len(t, w.Cyber, 2, "window bounds are inclusive")
	assert.Len(t, w.Fraud, 2)
}

func TestIOCLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ev, err := f.store.IngestCyber(ctx, &domain.CyberEvent{
		SubjectID: "S", EventType: "c2", Payload: "callback to 8.8.4.4", DetectedAt: base,
	})
	require.NoError(t, err)

	t.Run("served from cache", func(t *testing.T) {
		require.NoError(t, cache.SetStrings(ctx, f.cache, cache.IOCKey(domain.EventCyber, ev.ID), []string{"cached.net"}, time.Hour))
		assert.Equal(t, []string{"cached.net"}, f.store.CyberIOCs(ctx, ev))
	})

	t.Run("miss re-extracts and re-caches", func(t *testing.T) {
		require.NoError(t, f.cache.Delete(ctx, cache.IOCKey(domain.EventCyber, ev.ID)))
		assert.Equal(t, []string{"8.8.4.4"}, f.store.CyberIOCs(ctx, ev))

		cached, ok, err := cache.GetStrings(ctx, f.cache, cache.IOCKey(domain.EventCyber, ev.ID))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"8.8.4.4"}, cached)
	})

	t.Run("works without a cache", func(t *testing.T) {
		s := NewStore(f.repo, nil, nil, 0, logger.NewNop(), nil)
		assert.Equal(t, []string{"8.8.4.4"}, s.CyberIOCs(ctx, ev))
	})
}

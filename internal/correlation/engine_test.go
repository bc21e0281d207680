package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/events"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/repository"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestConfidenceFormulas(t *testing.T) {
	t.Run("temporal", func(t *testing.T) {
		assert.Equal(t, 0.8, TemporalConfidence(0))
		assert.Equal(t, 0.78, TemporalConfidence(1))
		assert.Equal(t, 0.55, TemporalConfidence(12))
		assert.Equal(t, 0.3, TemporalConfidence(24))
		assert.Equal(t, 0.3, TemporalConfidence(48))
	})

	t.Run("behavioral", func(t *testing.T) {
		assert.Equal(t, 0.4, BehavioralConfidence(1, 1))
		assert.Equal(t, 0.7, BehavioralConfidence(2, 2))
		assert.Equal(t, 0.9, BehavioralConfidence(2, 3))
		assert.Equal(t, 0.9, BehavioralConfidence(10, 10))
	})

	t.Run("ioc", func(t *testing.T) {
		assert.Equal(t, 0.7, IOCConfidence(1))
		assert.Equal(t, 0.9, IOCConfidence(2))
		assert.Equal(t, 0.9, IOCConfidence(5))
	})
}

func cyber(id, subject string, at time.Time, payload string) *domain.CyberEvent {
	return &domain.CyberEvent{ID: id, SubjectID: subject, EventType: "phishing", Payload: payload, Severity: domain.SeverityHigh, DetectedAt: at}
}

func fraud(id, subject string, at time.Time, payload string) *domain.FraudEvent {
	return &domain.FraudEvent{ID: id, SubjectID: subject, EventType: "unauthorized_transfer", Payload: payload, DetectedAt: at}
}

func TestTemporal(t *testing.T) {
	ctx := context.Background()
	tc := Temporal{MaxHours: 24}

	tests := []struct {
		name       string
		gap        time.Duration
		wantConf   float64
		wantFactor string
		emitted    bool
	}{
		{"same instant", 0, 0.8, "Fraud event occurred 0.0 hours after cyber event", true},
		{"one hour after", time.Hour, 0.78, "Fraud event occurred 1.0 hours after cyber event", true},
		{"two hours before", -2 * time.Hour, 0.76, "Fraud event occurred 2.0 hours before cyber event", true},
		{"at the limit", 24 * time.Hour, 0.3, "Fraud event occurred 24.0 hours after cyber event", true},
		{"beyond the limit", 25 * time.Hour, 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := NewSnapshot(
				[]*domain.CyberEvent{cyber("c1", "S1", now, "")},
				[]*domain.FraudEvent{fraud("f1", "S1", now.Add(tt.gap), "")},
				nil, nil,
			)
			out := tc.Correlate(ctx, snap)
			if !tt.emitted {
				assert.Empty(t, out)
				return
			}
			require.Len(t, out, 1)
			c := out[0]
			assert.Equal(t, domain.KindTemporal, c.Kind)
			assert.Equal(t, tt.wantConf, c.Confidence)
			assert.Equal(t, tt.wantFactor, c.Factors[0])
			assert.Equal(t, "c1", *c.CyberEventRef)
			assert.Equal(t, "f1", *c.FraudEventRef)
			require.NotNil(t, c.TimeDeltaHours)
			assert.GreaterOrEqual(t, *c.TimeDeltaHours, 0.0)
			assert.Equal(t, RecommendTemporal, c.Recommendation)
		})
	}

	t.Run("other subjects never pair", func(t *testing.T) {
		snap := NewSnapshot(
			[]*domain.CyberEvent{cyber("c1", "S1", now, "")},
			[]*domain.FraudEvent{fraud("f1", "S2", now, "")},
			nil, nil,
		)
		assert.Empty(t, tc.Correlate(ctx, snap))
	})

	t.Run("zero timestamps are skipped", func(t *testing.T) {
		snap := NewSnapshot(
			[]*domain.CyberEvent{cyber("c1", "S1", time.Time{}, "")},
			[]*domain.FraudEvent{fraud("f1", "S1", now, "")},
			nil, nil,
		)
		assert.Empty(t, tc.Correlate(ctx, snap))
	})
}

func TestBehavioral(t *testing.T) {
	snap := NewSnapshot(
		[]*domain.CyberEvent{
			cyber("c1", "S1", now, ""), cyber("c2", "S1", now, ""),
			cyber("c3", "S2", now, ""),
		},
		[]*domain.FraudEvent{
			fraud("f1", "S1", now, ""), fraud("f2", "S1", now, ""), fraud("f3", "S1", now, ""),
			fraud("f4", "S3", now, ""),
		},
		nil, nil,
	)

	out := Behavioral{}.Correlate(context.Background(), snap)
	require.Len(t, out, 1, "only subjects active in both streams")

	c := out[0]
	assert.Equal(t, "S1", c.SubjectID)
	assert.Equal(t, 0.9, c.Confidence)
	assert.Nil(t, c.CyberEventRef)
	assert.Nil(t, c.FraudEventRef)
	assert.Equal(t, "Multiple cyber events (2) and fraud events (3)", c.Factors[0])
	assert.Equal(t, RecommendBehavioral, c.Recommendation)
}

func TestIOC(t *testing.T) {
	snap := NewSnapshot(
		[]*domain.CyberEvent{
			cyber("c1", "S1", now, "beacon to 203.0.113.7 and evil.com"),
			cyber("c2", "S2", now, "nothing to see"),
		},
		[]*domain.FraudEvent{
			fraud("f1", "S9", now, "login from 203.0.113.7"),
			fraud("f2", "S1", now, "payee site evil.com, ip 203.0.113.7"),
			fraud("f3", "S1", now, "clean"),
		},
		nil, nil,
	)

	out := IOC{}.Correlate(context.Background(), snap)
	require.Len(t, out, 2)

	assert.Equal(t, "f1", *out[0].FraudEventRef)
	assert.Equal(t, "S1", out[0].SubjectID, "attributed to the cyber subject across subjects")
	assert.Equal(t, 0.7, out[0].Confidence)
	assert.Equal(t, []string{"203.0.113.7"}, out[0].SharedIOCs)

	assert.Equal(t, "f2", *out[1].FraudEventRef)
	assert.Equal(t, 0.9, out[1].Confidence)
	assert.Equal(t, []string{"203.0.113.7", "evil.com"}, out[1].SharedIOCs)
	assert.Equal(t, "Shared IOCs: 2 common indicators", out[1].Factors[0])
}

type engineFixture struct {
	repo   *repository.SQLRepository
	events *events.Store
	bus    *bus.ChannelBus
	engine *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "correlation.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(10, logger.NewNop())
	t.Cleanup(func() { b.Close() })

	store := events.NewStore(repo, cache.NewLRUCache(100), nil, time.Hour, logger.NewNop(), nil)
	engine := NewEngine(domain.DefaultConfig().Correlation, store, repo, b, logger.NewNop(), nil)
	engine.now = func() time.Time { return now }

	return &engineFixture{repo: repo, events: store, bus: b, engine: engine}
}

func (f *engineFixture) seedCUST001(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	at := now.Add(-3 * time.Hour)

	_, err := f.events.IngestCyber(ctx, cyber("", "CUST001", at, "phishing kit on 192.168.1.100"))
	require.NoError(t, err)
	_, err = f.events.IngestFraud(ctx, fraud("", "CUST001", at.Add(time.Hour), "transfer to new payee"))
	require.NoError(t, err)
	// Outside the 7 day window.
	_, err = f.events.IngestFraud(ctx, fraud("", "CUST001", now.AddDate(0, 0, -8), "old"))
	require.NoError(t, err)
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCUST001(t)

	created := make(chan domain.CorrelationCreatedPayload, 1)
	_, err := f.bus.Subscribe(ctx, domain.TopicCorrelationCreated, func(ctx context.Context, msg *domain.Message) error {
		var p domain.CorrelationCreatedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		created <- p
		return nil
	})
	require.NoError(t, err)

	result, err := f.engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.CyberEvents)
	assert.Equal(t, 1, result.FraudEvents)
	require.Len(t, result.Correlations, 2)

	temporal, behavioral := result.Correlations[0], result.Correlations[1]
	assert.Equal(t, domain.KindTemporal, temporal.Kind)
	assert.Equal(t, 0.78, temporal.Confidence)
	assert.Equal(t, domain.KindBehavioral, behavioral.Kind)
	assert.Equal(t, 0.4, behavioral.Confidence)

	for _, c := range result.Correlations {
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, domain.StatusNew, c.Status)
		assert.Equal(t, now, c.CreatedAt)
	}

	history, err := f.engine.History(ctx, "CUST001", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	select {
	case p := <-created:
		assert.Equal(t, "CUST001", p.SubjectID)
		assert.Len(t, p.IDs, 2)
	case <-time.After(time.Second):
		t.Fatal("no correlation created notice")
	}
}

func TestEngineRunIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCUST001(t)

	first, err := f.engine.Run(ctx)
	require.NoError(t, err)
	second, err := f.engine.Run(ctx)
	require.NoError(t, err)

	require.Equal(t, len(first.Correlations), len(second.Correlations))
	for i := range first.Correlations {
		a, b := *first.Correlations[i], *second.Correlations[i]
		assert.NotEqual(t, a.ID, b.ID)
		a.ID, b.ID = "", ""
		assert.Equal(t, a, b, "re-running an unchanged window yields equal content")
	}

	history, err := f.engine.History(ctx, "CUST001", 0)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestEngineRunIOCSetsStayWithTheirEvent(t *testing.T) {
	ctx := context.Background()
	at := now.Add(-2 * time.Hour)

	t.Run("cyber and fraud events sharing an id", func(t *testing.T) {
		f := newEngineFixture(t)
		_, err := f.events.IngestCyber(ctx, cyber("1", "S1", at, "beacon to 198.51.100.1"))
		require.NoError(t, err)
		_, err = f.events.IngestFraud(ctx, fraud("1", "S2", at, "payout via 203.0.113.9"))
		require.NoError(t, err)

		result, err := f.engine.Run(ctx)
		require.NoError(t, err)
		for _, c := range result.Correlations {
			assert.NotEqual(t, domain.KindIOC, c.Kind, "events share no indicator: %+v", c)
		}
	})

	t.Run("rejected duplicate keeps the stored indicators", func(t *testing.T) {
		f := newEngineFixture(t)
		_, err := f.events.IngestCyber(ctx, cyber("C1", "S1", at, "beacon to 198.51.100.1"))
		require.NoError(t, err)
		_, err = f.events.IngestFraud(ctx, fraud("F1", "S1", at, "payout via 203.0.113.9"))
		require.NoError(t, err)

		_, err = f.events.IngestCyber(ctx, cyber("C1", "S1", at, "retry 203.0.113.9"))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)

		result, err := f.engine.Run(ctx)
		require.NoError(t, err)
		for _, c := range result.Correlations {
			assert.NotEqual(t, domain.KindIOC, c.Kind, "stored events share no indicator: %+v", c)
		}
	})
}

type failingSaves struct {
	domain.Repository
}

func (failingSaves) SaveCorrelations(ctx context.Context, correlations []*domain.Correlation) error {
	return errors.New("disk full")
}

func TestEngineRunStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCUST001(t)

	broken := NewEngine(domain.DefaultConfig().Correlation, f.events, failingSaves{f.repo}, f.bus, logger.NewNop(), nil)
	broken.now = func() time.Time { return now }

	_, err := broken.Run(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsStore(err))

	history, err := f.engine.History(ctx, "CUST001", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEngineReport(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedCUST001(t)

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)

	report, err := f.engine.Report(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 30, report.PeriodDays)
	assert.Equal(t, 2, report.TotalCorrelations)
	require.Len(t, report.Statistics, 2)
	assert.Equal(t, domain.KindBehavioral, report.Statistics[0].Kind)
	assert.Equal(t, 0.4, report.Statistics[0].AvgConfidence)
	assert.Equal(t, domain.KindTemporal, report.Statistics[1].Kind)

	require.Equal(t, 1, report.HighConfidenceCount, "only the 0.78 temporal link reaches 0.7")
	assert.Equal(t, domain.KindTemporal, report.HighConfidence[0].Kind)
}

func TestHistoryRequiresSubject(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.History(context.Background(), "", 0)
	assert.True(t, domain.IsValidation(err))
}

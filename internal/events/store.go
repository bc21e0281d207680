// Package events stores the append-only cyber and fraud event streams.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ioc"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Store validates, enriches and persists events, caches their IOC sets and
// announces them on the bus.
type Store struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	iocTTL  time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewStore creates an event store. cache, bus and metrics may be nil.
func NewStore(repo domain.Repository, c domain.Cache, bus domain.EventBus, iocTTL time.Duration, log *logger.Logger, m *metrics.Metrics) *Store {
	if iocTTL <= 0 {
		iocTTL = 24 * time.Hour
	}
	return &Store{
		repo:    repo,
		cache:   c,
		bus:     bus,
		iocTTL:  iocTTL,
		logger:  log.Named("events"),
		metrics: m,
	}
}

// IngestCyber stores a cyber event. A missing ID is assigned and the
// severity is normalized. Reusing a stored ID is rejected with a
// ValidationError and leaves the stored event untouched.
func (s *Store) IngestCyber(ctx context.Context, ev *domain.CyberEvent) (*domain.CyberEvent, error) {
	if err := s.prepareCyber(ev); err != nil {
		return nil, err
	}

	if err := s.repo.SaveCyberEvent(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, s.duplicate(domain.EventCyber, ev.ID)
		}
		return nil, domain.NewStoreError("save cyber event", err)
	}

	s.ingested(ctx, domain.EventCyber, ev.ID, ev.SubjectID, ev.IOCs)
	return ev, nil
}

// IngestFraud stores a fraud event. A missing ID is assigned. Reusing a
// stored ID is rejected like in IngestCyber.
func (s *Store) IngestFraud(ctx context.Context, ev *domain.FraudEvent) (*domain.FraudEvent, error) {
	if err := s.prepareFraud(ev); err != nil {
		return nil, err
	}

	if err := s.repo.SaveFraudEvent(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, s.duplicate(domain.EventFraud, ev.ID)
		}
		return nil, domain.NewStoreError("save fraud event", err)
	}

	s.ingested(ctx, domain.EventFraud, ev.ID, ev.SubjectID, ev.IOCs)
	return ev, nil
}

func (s *Store) prepareCyber(ev *domain.CyberEvent) error {
	if ev == nil {
		return &domain.ValidationError{Field: "event", Reason: "is required"}
	}
	if err := ev.Validate(); err != nil {
		s.metrics.IncrementEventRejected(string(domain.EventCyber))
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.Severity = domain.ParseSeverity(string(ev.Severity))
	ev.DetectedAt = ev.DetectedAt.UTC()
	ev.IOCs = s.extract(ev.Payload, ev.RawIOCs)
	return nil
}

func (s *Store) prepareFraud(ev *domain.FraudEvent) error {
	if ev == nil {
		return &domain.ValidationError{Field: "event", Reason: "is required"}
	}
	if err := ev.Validate(); err != nil {
		s.metrics.IncrementEventRejected(string(domain.EventFraud))
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.DetectedAt = ev.DetectedAt.UTC()
	ev.IOCs = s.extract(ev.Payload, ev.RawIOCs)
	return nil
}

func (s *Store) duplicate(kind domain.EventKind, id string) *domain.ValidationError {
	s.metrics.IncrementEventRejected(string(kind))
	return &domain.ValidationError{Field: "id", Reason: "already exists", RecordID: id}
}

// Batch is a mixed set of events for IngestBatch.
type Batch struct {
	Cyber []*domain.CyberEvent `json:"cyber"`
	Fraud []*domain.FraudEvent `json:"fraud"`
}

// IngestBatch stores every valid event of the batch in one transaction.
// Invalid events and events reusing a stored or earlier batch ID are
// reported and skipped. A store failure commits nothing and returns a
// StoreError.
func (s *Store) IngestBatch(ctx context.Context, batch Batch) (*domain.IngestReport, error) {
	report := &domain.IngestReport{}

	var cyber []*domain.CyberEvent
	for _, ev := range batch.Cyber {
		if err := s.prepareCyber(ev); err != nil {
			s.reject(report, domain.EventCyber, err)
			continue
		}
		cyber = append(cyber, ev)
	}
	var fraud []*domain.FraudEvent
	for _, ev := range batch.Fraud {
		if err := s.prepareFraud(ev); err != nil {
			s.reject(report, domain.EventFraud, err)
			continue
		}
		fraud = append(fraud, ev)
	}

	res, err := s.repo.SaveEvents(ctx, cyber, fraud)
	if err != nil {
		return report, domain.NewStoreError("save event batch", err)
	}

	skipCyber := indexSet(res.CyberConflicts)
	for i, ev := range cyber {
		if skipCyber[i] {
			s.reject(report, domain.EventCyber, s.duplicate(domain.EventCyber, ev.ID))
			continue
		}
		s.ingested(ctx, domain.EventCyber, ev.ID, ev.SubjectID, ev.IOCs)
		report.Accepted++
	}
	skipFraud := indexSet(res.FraudConflicts)
	for i, ev := range fraud {
		if skipFraud[i] {
			s.reject(report, domain.EventFraud, s.duplicate(domain.EventFraud, ev.ID))
			continue
		}
		s.ingested(ctx, domain.EventFraud, ev.ID, ev.SubjectID, ev.IOCs)
		report.Accepted++
	}
	return report, nil
}

func indexSet(idx []int) map[int]bool {
	set := make(map[int]bool, len(idx))
	for _, i := range idx {
		set[i] = true
	}
	return set
}

// reject records a per-record validation failure in the report.
func (s *Store) reject(report *domain.IngestReport, kind domain.EventKind, err error) {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		verr = &domain.ValidationError{Field: "event", Reason: err.Error()}
	}
	report.Rejected = append(report.Rejected, verr)
	s.logger.RecordRejected(string(kind)+"_event", verr)
}

// Window is a read snapshot of both streams over [From, To].
type Window struct {
	From  time.Time
	To    time.Time
	Cyber []*domain.CyberEvent
	Fraud []*domain.FraudEvent
}

// Window returns the events detected within [from, to].
func (s *Store) Window(ctx context.Context, from, to time.Time) (*Window, error) {
	cyber, err := s.repo.ListCyberEvents(ctx, from, to)
	if err != nil {
		return nil, domain.NewStoreError("list cyber events", err)
	}
	fraud, err := s.repo.ListFraudEvents(ctx, from, to)
	if err != nil {
		return nil, domain.NewStoreError("list fraud events", err)
	}
	return &Window{From: from, To: to, Cyber: cyber, Fraud: fraud}, nil
}

// CyberBySubject returns a subject's cyber events since the given time.
func (s *Store) CyberBySubject(ctx context.Context, subjectID string, since time.Time) ([]*domain.CyberEvent, error) {
	evs, err := s.repo.ListCyberEventsBySubject(ctx, subjectID, since)
	if err != nil {
		return nil, domain.NewStoreError("list cyber events by subject", err)
	}
	return evs, nil
}

// FraudBySubject returns a subject's fraud events since the given time.
func (s *Store) FraudBySubject(ctx context.Context, subjectID string, since time.Time) ([]*domain.FraudEvent, error) {
	evs, err := s.repo.ListFraudEventsBySubject(ctx, subjectID, since)
	if err != nil {
		return nil, domain.NewStoreError("list fraud events by subject", err)
	}
	return evs, nil
}

// CyberIOCs returns the IOC set of a stored cyber event.
func (s *Store) CyberIOCs(ctx context.Context, ev *domain.CyberEvent) []string {
	return s.iocs(ctx, domain.EventCyber, ev.ID, ev.Payload, ev.RawIOCs)
}

// FraudIOCs returns the IOC set of a stored fraud event.
func (s *Store) FraudIOCs(ctx context.Context, ev *domain.FraudEvent) []string {
	return s.iocs(ctx, domain.EventFraud, ev.ID, ev.Payload, ev.RawIOCs)
}

// iocs serves the cached set, extracting and re-caching it on a miss.
// Cache failures degrade to extraction.
func (s *Store) iocs(ctx context.Context, kind domain.EventKind, id, payload, raw string) []string {
	if s.cache != nil {
		values, ok, err := cache.GetStrings(ctx, s.cache, cache.IOCKey(kind, id))
		if err != nil {
			s.logger.Warn("ioc cache read failed",
				logger.StringField("event_id", id),
				logger.ErrorField(err),
			)
		}
		if ok {
			return values
		}
	}
	values := s.extract(payload, raw)
	s.cacheIOCs(ctx, kind, id, values)
	return values
}

// extract runs IOC extraction. A malformed structured IOC field is
// logged and skipped.
func (s *Store) extract(payload, raw string) []string {
	values, err := ioc.Extract(payload, raw)
	if err != nil {
		s.logger.RecordRejected("ioc_field", err)
	}
	if values == nil {
		values = []string{}
	}
	return values
}

// cacheIOCs caches the IOC set of a stored event. Only stored events are
// cached, so a rejected record never replaces a stored event's set.
func (s *Store) cacheIOCs(ctx context.Context, kind domain.EventKind, id string, values []string) {
	if s.cache == nil {
		return
	}
	if err := cache.SetStrings(ctx, s.cache, cache.IOCKey(kind, id), values, s.iocTTL); err != nil {
		s.logger.Warn("ioc cache write failed",
			logger.StringField("event_id", id),
			logger.ErrorField(err),
		)
	}
}

// ingested caches the IOC set, records metrics and publishes the ingestion
// notice. A publish failure is logged; the event is already durable.
func (s *Store) ingested(ctx context.Context, kind domain.EventKind, id, subjectID string, iocs []string) {
	s.cacheIOCs(ctx, kind, id, iocs)
	s.metrics.IncrementEventIngested(string(kind))
	s.logger.Debug("event ingested",
		logger.StringField("kind", string(kind)),
		logger.StringField("event_id", id),
		logger.StringField("subject_id", subjectID),
		logger.IntField("iocs", len(iocs)),
	)

	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.EventIngestedPayload{EventID: id, Kind: kind, SubjectID: strings.TrimSpace(subjectID)})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicEventIngested, payload); err != nil {
		s.logger.Warn("failed to publish event ingested",
			logger.StringField("event_id", id),
			logger.ErrorField(err),
		)
	}
}

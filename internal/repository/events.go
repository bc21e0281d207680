package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const insertCyberEvent = `
	INSERT INTO cyber_events (
		id, subject_id, event_type, payload, severity,
		detected_at, source, iocs, raw_iocs
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING
`

const insertFraudEvent = `
	INSERT INTO fraud_events (
		id, subject_id, event_type, payload, risk_score, amount,
		detected_at, source, iocs, raw_iocs
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func cyberArgs(ev *domain.CyberEvent) []any {
	return []any{
		ev.ID, ev.SubjectID, ev.EventType, ev.Payload, string(ev.Severity),
		utc(ev.DetectedAt), ev.Source, encodeStrings(ev.IOCs), ev.RawIOCs,
	}
}

func fraudArgs(ev *domain.FraudEvent) []any {
	return []any{
		ev.ID, ev.SubjectID, ev.EventType, ev.Payload, ev.RiskScore, ev.Amount,
		utc(ev.DetectedAt), ev.Source, encodeStrings(ev.IOCs), ev.RawIOCs,
	}
}

// insertEvent runs one append and reports whether a row was written. An
// existing ID leaves the stored row untouched and writes nothing.
func (r *SQLRepository) insertEvent(ctx context.Context, db execer, query, id string, args []any) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	res, err := db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveCyberEvent appends a cyber event. An ID already in the stream
// returns domain.ErrConflict.
func (r *SQLRepository) SaveCyberEvent(ctx context.Context, ev *domain.CyberEvent) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	ok, err := r.insertEvent(ctx, r.db, insertCyberEvent, ev.ID, cyberArgs(ev))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cyber event %s: %w", ev.ID, domain.ErrConflict)
	}
	return nil
}

// SaveFraudEvent appends a fraud event. An ID already in the stream
// returns domain.ErrConflict.
func (r *SQLRepository) SaveFraudEvent(ctx context.Context, ev *domain.FraudEvent) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	ok, err := r.insertEvent(ctx, r.db, insertFraudEvent, ev.ID, fraudArgs(ev))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("fraud event %s: %w", ev.ID, domain.ErrConflict)
	}
	return nil
}

// SaveEvents appends both slices in one transaction. Events whose ID is
// already stored, or repeats an earlier event of the same slice, are
// skipped and reported by index. Any other failure commits nothing.
func (r *SQLRepository) SaveEvents(ctx context.Context, cyber []*domain.CyberEvent, fraud []*domain.FraudEvent) (*domain.EventSaveResult, error) {
	out := &domain.EventSaveResult{}
	if len(cyber) == 0 && len(fraud) == 0 {
		return out, nil
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for i, ev := range cyber {
			ok, err := r.insertEvent(ctx, tx, insertCyberEvent, ev.ID, cyberArgs(ev))
			if err != nil {
				return fmt.Errorf("write cyber event %s: %w", ev.ID, err)
			}
			if !ok {
				out.CyberConflicts = append(out.CyberConflicts, i)
			}
		}
		for i, ev := range fraud {
			ok, err := r.insertEvent(ctx, tx, insertFraudEvent, ev.ID, fraudArgs(ev))
			if err != nil {
				return fmt.Errorf("write fraud event %s: %w", ev.ID, err)
			}
			if !ok {
				out.FraudConflicts = append(out.FraudConflicts, i)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const cyberColumns = `id, subject_id, event_type, payload, severity, detected_at, source, iocs, raw_iocs`

const fraudColumns = `id, subject_id, event_type, payload, risk_score, amount, detected_at, source, iocs, raw_iocs`

// ListCyberEvents returns cyber events detected within [from, to].
func (r *SQLRepository) ListCyberEvents(ctx context.Context, from, to time.Time) ([]*domain.CyberEvent, error) {
	query := `SELECT ` + cyberColumns + `
		FROM cyber_events
		WHERE detected_at >= ? AND detected_at <= ?
		ORDER BY detected_at, id
	`
	return r.queryCyber(ctx, query, utc(from), utc(to))
}

// ListCyberEventsBySubject returns a subject's cyber events since the given time.
func (r *SQLRepository) ListCyberEventsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*domain.CyberEvent, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}

	query := `SELECT ` + cyberColumns + `
		FROM cyber_events
		WHERE subject_id = ? AND detected_at >= ?
		ORDER BY detected_at, id
	`
	return r.queryCyber(ctx, query, subjectID, utc(since))
}

// ListFraudEvents returns fraud events detected within [from, to].
func (r *SQLRepository) ListFraudEvents(ctx context.Context, from, to time.Time) ([]*domain.FraudEvent, error) {
	query := `SELECT ` + fraudColumns + `
		FROM fraud_events
		WHERE detected_at >= ? AND detected_at <= ?
		ORDER BY detected_at, id
	`
	return r.queryFraud(ctx, query, utc(from), utc(to))
}

// ListFraudEventsBySubject returns a subject's fraud events since the given time.
func (r *SQLRepository) ListFraudEventsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*domain.FraudEvent, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}

	query := `SELECT ` + fraudColumns + `
		FROM fraud_events
		WHERE subject_id = ? AND detected_at >= ?
		ORDER BY detected_at, id
	`
	return r.queryFraud(ctx, query, subjectID, utc(since))
}

func (r *SQLRepository) queryCyber(ctx context.Context, query string, args ...any) ([]*domain.CyberEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.CyberEvent
	for rows.Next() {
		var ev domain.CyberEvent
		var severity, iocs string
		var raw sql.NullString

		if err := rows.Scan(
			&ev.ID, &ev.SubjectID, &ev.EventType, &ev.Payload, &severity,
			&ev.DetectedAt, &ev.Source, &iocs, &raw,
		); err != nil {
			return nil, err
		}

		ev.Severity = domain.Severity(severity)
		ev.IOCs = decodeStrings(iocs)
		ev.RawIOCs = raw.String
		events = append(events, &ev)
	}

	return events, rows.Err()
}

func (r *SQLRepository) queryFraud(ctx context.Context, query string, args ...any) ([]*domain.FraudEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.FraudEvent
	for rows.Next() {
		var ev domain.FraudEvent
		var iocs string
		var raw sql.NullString

		if err := rows.Scan(
			&ev.ID, &ev.SubjectID, &ev.EventType, &ev.Payload, &ev.RiskScore, &ev.Amount,
			&ev.DetectedAt, &ev.Source, &iocs, &raw,
		); err != nil {
			return nil, err
		}

		ev.IOCs = decodeStrings(iocs)
		ev.RawIOCs = raw.String
		events = append(events, &ev)
	}

	return events, rows.Err()
}

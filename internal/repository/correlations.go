package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const correlationColumns = `
	id, kind, cyber_event_ref, fraud_event_ref, subject_id, confidence,
	factors, shared_iocs, time_delta_hours, recommendation, created_at, status
`

// SaveCorrelations appends the output of one correlation pass. The batch
// commits all-or-nothing.
func (r *SQLRepository) SaveCorrelations(ctx context.Context, correlations []*domain.Correlation) error {
	if len(correlations) == 0 {
		return nil
	}

	query := `INSERT INTO correlations (` + correlationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range correlations {
			status := c.Status
			if status == "" {
				status = domain.StatusNew
			}
			if _, err := stmt.ExecContext(ctx,
				c.ID, string(c.Kind), nullString(c.CyberEventRef), nullString(c.FraudEventRef),
				c.SubjectID, c.Confidence, encodeStrings(c.Factors), encodeStrings(c.SharedIOCs),
				nullFloat(c.TimeDeltaHours), c.Recommendation, utc(c.CreatedAt), string(status),
			); err != nil {
				return fmt.Errorf("failed to write correlation %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// ListCorrelationsBySubject returns a subject's correlations, newest first.
func (r *SQLRepository) ListCorrelationsBySubject(ctx context.Context, subjectID string, limit int) ([]*domain.Correlation, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}

	query := `SELECT ` + correlationColumns + `
		FROM correlations
		WHERE subject_id = ?
		ORDER BY created_at DESC, id
	`
	args := []any{subjectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryCorrelations(ctx, query, args...)
}

// ListCorrelationsSince returns correlations created since the given time
// with at least minConfidence, highest confidence first.
func (r *SQLRepository) ListCorrelationsSince(ctx context.Context, since time.Time, minConfidence float64, limit int) ([]*domain.Correlation, error) {
	query := `SELECT ` + correlationColumns + `
		FROM correlations
		WHERE created_at >= ? AND confidence >= ?
		ORDER BY confidence DESC, created_at DESC, id
	`
	args := []any{utc(since), minConfidence}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryCorrelations(ctx, query, args...)
}

// CorrelationStats aggregates correlations created since the given time by kind.
func (r *SQLRepository) CorrelationStats(ctx context.Context, since time.Time) ([]domain.CorrelationKindStats, error) {
	query := `
		SELECT kind, COUNT(*), AVG(confidence)
		FROM correlations
		WHERE created_at >= ?
		GROUP BY kind
		ORDER BY kind
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), utc(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.CorrelationKindStats
	for rows.Next() {
		var s domain.CorrelationKindStats
		var kind string
		if err := rows.Scan(&kind, &s.Count, &s.AvgConfidence); err != nil {
			return nil, err
		}
		s.Kind = domain.CorrelationKind(kind)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *SQLRepository) queryCorrelations(ctx context.Context, query string, args ...any) ([]*domain.Correlation, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var correlations []*domain.Correlation
	for rows.Next() {
		var c domain.Correlation
		var kind, factors, shared, status string
		var cyberRef, fraudRef sql.NullString
		var delta sql.NullFloat64

		if err := rows.Scan(
			&c.ID, &kind, &cyberRef, &fraudRef, &c.SubjectID, &c.Confidence,
			&factors, &shared, &delta, &c.Recommendation, &c.CreatedAt, &status,
		); err != nil {
			return nil, err
		}

		c.Kind = domain.CorrelationKind(kind)
		c.Status = domain.CorrelationStatus(status)
		c.CyberEventRef = stringPtr(cyberRef)
		c.FraudEventRef = stringPtr(fraudRef)
		c.TimeDeltaHours = floatPtr(delta)
		c.Factors = decodeStrings(factors)
		c.SharedIOCs = decodeStrings(shared)
		correlations = append(correlations, &c)
	}

	return correlations, rows.Err()
}

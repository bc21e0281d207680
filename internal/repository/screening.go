package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveScreeningResults appends results in one transaction.
func (r *SQLRepository) SaveScreeningResults(ctx context.Context, results []*domain.ScreeningResult) error {
	if len(results) == 0 {
		return nil
	}

	query := `
		INSERT INTO screening_results (
			id, subject_id, entry_source, entry_name, matched_entry,
			match_score, matched_fields, screened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.rebind(query))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, res := range results {
			entry, err := json.Marshal(res.MatchedEntry)
			if err != nil {
				return fmt.Errorf("failed to encode matched entry: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				res.ID, res.SubjectID, res.MatchedEntry.Source, res.MatchedEntry.Name, string(entry),
				res.MatchScore, encodeStrings(res.MatchedFields), utc(res.ScreenedAt),
			); err != nil {
				return fmt.Errorf("failed to write screening result %s: %w", res.ID, err)
			}
		}
		return nil
	})
}

// ListScreeningResults returns a subject's results since the given time,
// newest first. A non-positive limit returns all of them.
func (r *SQLRepository) ListScreeningResults(ctx context.Context, subjectID string, since time.Time, limit int) ([]*domain.ScreeningResult, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, subject_id, matched_entry, match_score, matched_fields, screened_at
		FROM screening_results
		WHERE subject_id = ? AND screened_at >= ?
		ORDER BY screened_at DESC, match_score DESC, id
	`
	args := []any{subjectID, utc(since)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.ScreeningResult
	for rows.Next() {
		var res domain.ScreeningResult
		var entry, fields string

		if err := rows.Scan(&res.ID, &res.SubjectID, &entry, &res.MatchScore, &fields, &res.ScreenedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(entry), &res.MatchedEntry); err != nil {
			return nil, fmt.Errorf("failed to parse matched entry for %s: %w", res.ID, err)
		}
		res.MatchedFields = decodeStrings(fields)
		results = append(results, &res)
	}

	return results, rows.Err()
}

// CountScreeningResults counts results screened since the given time with
// a score of at least minScore.
func (r *SQLRepository) CountScreeningResults(ctx context.Context, since time.Time, minScore float64) (int, error) {
	query := `
		SELECT COUNT(*) FROM screening_results
		WHERE screened_at >= ? AND match_score >= ?
	`

	var n int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), utc(since), minScore).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteScreeningResultsBefore removes results screened before the cutoff.
func (r *SQLRepository) DeleteScreeningResultsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.exec(ctx, `DELETE FROM screening_results WHERE screened_at < ?`, utc(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

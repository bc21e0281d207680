package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

const upsertWatchlistEntry = `
	INSERT INTO watchlist_entries (
		source, entity_type, name, aliases, dob, passport,
		nationality, address, listing_date, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source, name, dob) DO UPDATE SET
		entity_type = excluded.entity_type,
		aliases = excluded.aliases,
		passport = excluded.passport,
		nationality = excluded.nationality,
		address = excluded.address,
		listing_date = excluded.listing_date,
		updated_at = excluded.updated_at
`

// UpsertWatchlistEntries writes entries in one transaction. A repeated
// (source, name, dob) key replaces the stored entry.
func (r *SQLRepository) UpsertWatchlistEntries(ctx context.Context, entries []*domain.WatchlistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return r.insertEntries(ctx, tx, entries)
	})
}

// ReplaceWatchlistSource swaps every entry of source for entries atomically.
func (r *SQLRepository) ReplaceWatchlistSource(ctx context.Context, source string, entries []*domain.WatchlistEntry) error {
	if source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidInput)
	}
	for _, e := range entries {
		if e.Source != source {
			return fmt.Errorf("%w: entry %q belongs to source %q", ErrInvalidInput, e.Name, e.Source)
		}
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM watchlist_entries WHERE source = ?`), source); err != nil {
			return fmt.Errorf("failed to clear source %s: %w", source, err)
		}
		return r.insertEntries(ctx, tx, entries)
	})
}

func (r *SQLRepository) insertEntries(ctx context.Context, tx *sql.Tx, entries []*domain.WatchlistEntry) error {
	stmt, err := tx.PrepareContext(ctx, r.rebind(upsertWatchlistEntry))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Source, string(e.EntityType), e.Name, encodeStrings(e.Aliases), e.DOBKey(),
			nullString(e.Passport), nullString(e.Nationality), nullString(e.Address),
			utc(e.ListingDate), utc(e.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to write entry %s/%s: %w", e.Source, e.Name, err)
		}
	}
	return nil
}

// ListWatchlistEntries returns every entry ordered by (source, name, dob).
func (r *SQLRepository) ListWatchlistEntries(ctx context.Context) ([]*domain.WatchlistEntry, error) {
	query := `
		SELECT source, entity_type, name, aliases, dob, passport,
			   nationality, address, listing_date, updated_at
		FROM watchlist_entries
		ORDER BY source, name, dob
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.WatchlistEntry
	for rows.Next() {
		var e domain.WatchlistEntry
		var entityType, aliases, dob string
		var passport, nationality, address sql.NullString

		if err := rows.Scan(
			&e.Source, &entityType, &e.Name, &aliases, &dob, &passport,
			&nationality, &address, &e.ListingDate, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}

		e.EntityType = domain.EntityType(entityType)
		e.Aliases = decodeStrings(aliases)
		if dob != "" {
			e.DateOfBirth = &dob
		}
		e.Passport = stringPtr(passport)
		e.Nationality = stringPtr(nationality)
		e.Address = stringPtr(address)
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// ListWatchlistSources returns the distinct sources in sorted order.
func (r *SQLRepository) ListWatchlistSources(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT source FROM watchlist_entries ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// WatchlistStamp returns the entry count and newest update time.
func (r *SQLRepository) WatchlistStamp(ctx context.Context) (domain.WatchlistStamp, error) {
	var stamp domain.WatchlistStamp
	var latest sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(updated_at) FROM watchlist_entries`,
	).Scan(&stamp.Count, &latest)
	if err != nil {
		return stamp, err
	}
	stamp.UpdatedAt = latest.String
	return stamp, nil
}

// Package repository stores watchlists, events, screening results,
// correlations and risk profiles in SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// connectTimeout bounds the initial ping and migration of a new handle.
const connectTimeout = 10 * time.Second

type opener func(domain.RepositoryConfig) (*sql.DB, error)

var openers = map[string]opener{
	"sqlite":   openSQLite,
	"postgres": openPostgres,
}

// SQLRepository is the domain.Repository over database/sql. Queries are
// written with ? placeholders and rebound for PostgreSQL. Writes are
// serialized through writeMu so SQLite never sees two writers; reads run
// concurrently.
type SQLRepository struct {
	db       *sql.DB
	postgres bool

	writeMu sync.Mutex
}

var _ domain.Repository = (*SQLRepository)(nil)

// New opens the configured database and creates any missing tables.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	applyPool(db, cfg)

	repo := &SQLRepository{db: db, postgres: cfg.Driver == "postgres"}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Driver, err)
	}
	return repo, nil
}

// applyPool sizes the pool. An in-memory SQLite keeps its single pinned
// connection; recycling it would drop the database.
func applyPool(db *sql.DB, cfg domain.RepositoryConfig) {
	if cfg.Driver == "sqlite" && cfg.SQLitePath == memoryPath {
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// migrate applies every schema in one transaction. The statements are
// idempotent, so reopening an existing database is a no-op.
func (r *SQLRepository) migrate(ctx context.Context) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for i, schema := range AllSchemas() {
			if _, err := tx.ExecContext(ctx, schema); err != nil {
				return fmt.Errorf("schema %d: %w", i, err)
			}
		}
		return nil
	})
}

// withTx runs fn inside one write transaction. Any error rolls back
// everything fn did.
func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// exec runs a single write statement under the write lock.
func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.db.ExecContext(ctx, r.rebind(query), args...)
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... on PostgreSQL. None of the
// queries carry a literal '?'.
func (r *SQLRepository) rebind(query string) string {
	if !r.postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, part := range strings.SplitAfter(query, "?") {
		if strings.HasSuffix(part, "?") {
			n++
			b.WriteString(part[:len(part)-1])
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteString(part)
	}
	return b.String()
}

// Column helpers.

func utc(t time.Time) time.Time {
	return t.UTC()
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

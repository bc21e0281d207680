package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/opensource-finance/harrier/internal/domain"
)

// memoryPath selects a private in-memory database.
const memoryPath = ":memory:"

// openSQLite opens the community-tier database with the pure Go driver.
// An in-memory database is pinned to one connection, since every new
// connection would otherwise see an empty database.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := orDefault(cfg.SQLitePath, "./harrier.db")

	if path != memoryPath {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

// sqliteDSN builds the driver URI. Timestamps use one fixed UTC layout so
// range predicates compare correctly as text, and write transactions take
// the lock up front.
func sqliteDSN(path string) string {
	params := url.Values{}
	if path != memoryPath {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(ON)")
	params.Set("_time_format", "sqlite")
	params.Set("_txlock", "immediate")

	return fmt.Sprintf("file:%s?%s", path, params.Encode())
}

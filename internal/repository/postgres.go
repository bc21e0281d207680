package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/opensource-finance/harrier/internal/domain"
)

// openPostgres connects through lib/pq. Sessions run in UTC so timestamp
// columns round-trip without offsets.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}
	db := sql.OpenDB(connector)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}

// postgresDSN renders a libpq key/value connection string. Empty user and
// password are left out so libpq falls back to its environment defaults.
func postgresDSN(cfg domain.RepositoryConfig) string {
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	params := [][2]string{
		{"host", orDefault(cfg.PostgresHost, "localhost")},
		{"port", strconv.Itoa(port)},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", orDefault(cfg.PostgresDB, "harrier")},
		{"sslmode", orDefault(cfg.PostgresSSLMode, "disable")},
		{"timezone", "UTC"},
		{"application_name", "harrier"},
	}

	parts := make([]string, 0, len(params))
	for _, kv := range params {
		if kv[1] == "" {
			continue
		}
		parts = append(parts, kv[0]+"="+quoteDSNValue(kv[1]))
	}
	return strings.Join(parts, " ")
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteDSNValue(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

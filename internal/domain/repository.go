// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Writes are serialized; multi-record writes are transactional and commit
// all-or-nothing.
type Repository interface {
	// Watchlist operations
	UpsertWatchlistEntries(ctx context.Context, entries []*WatchlistEntry) error
	ReplaceWatchlistSource(ctx context.Context, source string, entries []*WatchlistEntry) error
	ListWatchlistEntries(ctx context.Context) ([]*WatchlistEntry, error)
	ListWatchlistSources(ctx context.Context) ([]string, error)
	WatchlistStamp(ctx context.Context) (WatchlistStamp, error)

	// Screening results
	SaveScreeningResults(ctx context.Context, results []*ScreeningResult) error
	ListScreeningResults(ctx context.Context, subjectID string, since time.Time, limit int) ([]*ScreeningResult, error)
	CountScreeningResults(ctx context.Context, since time.Time, minScore float64) (int, error)
	DeleteScreeningResultsBefore(ctx context.Context, before time.Time) (int64, error)

	// Event operations
	SaveCyberEvent(ctx context.Context, ev *CyberEvent) error
	SaveFraudEvent(ctx context.Context, ev *FraudEvent) error
	SaveEvents(ctx context.Context, cyber []*CyberEvent, fraud []*FraudEvent) (*EventSaveResult, error)
	ListCyberEvents(ctx context.Context, from, to time.Time) ([]*CyberEvent, error)
	ListFraudEvents(ctx context.Context, from, to time.Time) ([]*FraudEvent, error)
	ListCyberEventsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*CyberEvent, error)
	ListFraudEventsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*FraudEvent, error)

	// Correlation operations
	SaveCorrelations(ctx context.Context, correlations []*Correlation) error
	ListCorrelationsBySubject(ctx context.Context, subjectID string, limit int) ([]*Correlation, error)
	ListCorrelationsSince(ctx context.Context, since time.Time, minConfidence float64, limit int) ([]*Correlation, error)
	CorrelationStats(ctx context.Context, since time.Time) ([]CorrelationKindStats, error)

	// Risk profiles
	UpsertRiskProfile(ctx context.Context, profile *RiskProfile) error
	GetRiskProfile(ctx context.Context, subjectID string) (*RiskProfile, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// EventSaveResult lists, by input index, the events SaveEvents skipped
// because their ID was already taken.
type EventSaveResult struct {
	CyberConflicts []int
	FraudConflicts []int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// WatchlistStamp summarizes the stored watchlist so a cached copy can be
// checked against writes made by other processes. UpdatedAt is the newest
// updated_at as the driver reports it and is only compared for equality.
type WatchlistStamp struct {
	Count     int
	UpdatedAt string
}

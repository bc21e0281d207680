package domain

import "time"

// Config holds the complete Harrier configuration. It is built once at
// startup and passed by value into component constructors.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines which backends are used by default
	Tier Tier `mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`

	// Core engine settings
	Screening   ScreeningConfig   `mapstructure:"screening"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Worker      WorkerConfig      `mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// MatchWeights are the per-field weights of the identity matcher.
type MatchWeights struct {
	Name        float64 `mapstructure:"name"`
	Nationality float64 `mapstructure:"nationality"`
	DOB         float64 `mapstructure:"dob"`
}

// Screening index modes.
const (
	IndexNone  = "none"
	IndexBound = "bound"
)

// ScreeningConfig holds watchlist screening settings.
type ScreeningConfig struct {
	// AdmissionThreshold is the minimum match score surfaced as a result.
	AdmissionThreshold float64 `mapstructure:"admission_threshold"`

	// NameFieldThreshold is the name similarity above which "name" is
	// reported as a matched field.
	NameFieldThreshold float64 `mapstructure:"name_field_threshold"`

	Weights MatchWeights `mapstructure:"weights"`

	// IndexMode is "none" (plain exhaustive scan) or "bound".
	IndexMode string `mapstructure:"index_mode"`

	// Workers is the number of concurrent scan shards.
	Workers int `mapstructure:"workers"`

	// Timeout bounds a screening call when the caller sets no deadline.
	Timeout time.Duration `mapstructure:"timeout"`

	// Retention is how long screening results are kept by Purge.
	Retention time.Duration `mapstructure:"retention"`
}

// CorrelationConfig holds correlation engine settings.
type CorrelationConfig struct {
	// Window is the lookback of a correlation pass.
	Window time.Duration `mapstructure:"window"`

	// TemporalMaxHours is the largest gap that still correlates in time.
	TemporalMaxHours float64 `mapstructure:"temporal_max_hours"`

	// Timeout bounds a pass when the caller sets no deadline.
	Timeout time.Duration `mapstructure:"timeout"`

	// Report settings
	ReportMinConfidence float64 `mapstructure:"report_min_confidence"`
	ReportLimit         int     `mapstructure:"report_limit"`
	HistoryLimit        int     `mapstructure:"history_limit"`
}

// RiskConfig holds risk aggregation settings.
type RiskConfig struct {
	CyberLookback     time.Duration `mapstructure:"cyber_lookback"`
	FraudLookback     time.Duration `mapstructure:"fraud_lookback"`
	ScreeningLookback time.Duration `mapstructure:"screening_lookback"`

	// ScreeningOverride is the match score that forces a HIGH level.
	ScreeningOverride float64 `mapstructure:"screening_override"`
}

// AlertRuleConfig is a CEL alert rule evaluated against risk profiles.
type AlertRuleConfig struct {
	ID         string `mapstructure:"id" json:"id"`
	Name       string `mapstructure:"name" json:"name"`
	Expression string `mapstructure:"expression" json:"expression"`
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
}

// AlertsConfig holds the configured alert rules.
type AlertsConfig struct {
	Rules []AlertRuleConfig `mapstructure:"rules"`
}

// WorkerConfig controls the asynchronous bus worker.
type WorkerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`       // debug, info, warn, error
	Environment string `mapstructure:"environment"` // production, development
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, channels and a local LRU cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			IOCTTL:       24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Screening: ScreeningConfig{
			AdmissionThreshold: 0.8,
			NameFieldThreshold: 0.8,
			Weights: MatchWeights{
				Name:        0.6,
				Nationality: 0.2,
				DOB:         0.2,
			},
			IndexMode: IndexBound,
			Workers:   4,
			Timeout:   30 * time.Second,
			Retention: 90 * 24 * time.Hour,
		},
		Correlation: CorrelationConfig{
			Window:              7 * 24 * time.Hour,
			TemporalMaxHours:    24,
			Timeout:             time.Minute,
			ReportMinConfidence: 0.7,
			ReportLimit:         10,
			HistoryLimit:        20,
		},
		Risk: RiskConfig{
			CyberLookback:     30 * 24 * time.Hour,
			FraudLookback:     30 * 24 * time.Hour,
			ScreeningLookback: 30 * 24 * time.Hour,
			ScreeningOverride: 0.8,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "production",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		IOCTTL:         24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

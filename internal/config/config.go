// Package config loads the Harrier configuration from defaults, an optional
// YAML file and HARRIER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// HARRIER_SCREENING_ADMISSION_THRESHOLD=0.85.
const EnvPrefix = "HARRIER"

// Load loads configuration. An empty path searches ./configs and
// /etc/harrier for harrier.yaml; a missing file is not an error.
func Load(path string) (domain.Config, error) {
	v := viper.New()

	// HARRIER_TIER selects the base defaults before anything else is read.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("harrier")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/harrier")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return domain.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg domain.Config) error {
	s := cfg.Screening
	if s.AdmissionThreshold <= 0 || s.AdmissionThreshold > 1 {
		return fmt.Errorf("screening.admission_threshold must be within (0,1], got %v", s.AdmissionThreshold)
	}
	if s.NameFieldThreshold <= 0 || s.NameFieldThreshold > 1 {
		return fmt.Errorf("screening.name_field_threshold must be within (0,1], got %v", s.NameFieldThreshold)
	}
	if s.Weights.Name < 0 || s.Weights.Nationality < 0 || s.Weights.DOB < 0 {
		return fmt.Errorf("screening.weights must be non-negative")
	}
	if s.IndexMode != domain.IndexNone && s.IndexMode != domain.IndexBound {
		return fmt.Errorf("screening.index_mode must be %q or %q, got %q", domain.IndexNone, domain.IndexBound, s.IndexMode)
	}
	if o := cfg.Risk.ScreeningOverride; o <= 0 || o > 1 {
		return fmt.Errorf("risk.screening_override must be within (0,1], got %v", o)
	}
	if cfg.Correlation.Window <= 0 {
		return fmt.Errorf("correlation.window must be positive")
	}
	if cfg.Correlation.TemporalMaxHours < 0 {
		return fmt.Errorf("correlation.temporal_max_hours must be non-negative")
	}
	return nil
}

func setDefaults(v *viper.Viper, d domain.Config) {
	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("tier", string(d.Tier))

	// Repository defaults
	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", d.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", d.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", d.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", d.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", d.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", d.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", d.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", d.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", d.Repository.ConnMaxLifetime)

	// Cache defaults
	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", d.Cache.EnableTwoPhase)
	v.SetDefault("cache.ioc_ttl", d.Cache.IOCTTL)

	// Event bus defaults
	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", d.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", d.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", d.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", d.EventBus.NATSReconnectWait)
	v.SetDefault("event_bus.nats_queue_group", d.EventBus.NATSQueueGroup)
	v.SetDefault("event_bus.kafka_brokers", d.EventBus.KafkaBrokers)
	v.SetDefault("event_bus.kafka_consumer_group", "harrier")
	v.SetDefault("event_bus.breaker_failures", d.EventBus.BreakerFailures)
	v.SetDefault("event_bus.breaker_timeout", d.EventBus.BreakerTimeout)

	// Screening defaults
	v.SetDefault("screening.admission_threshold", d.Screening.AdmissionThreshold)
	v.SetDefault("screening.name_field_threshold", d.Screening.NameFieldThreshold)
	v.SetDefault("screening.weights.name", d.Screening.Weights.Name)
	v.SetDefault("screening.weights.nationality", d.Screening.Weights.Nationality)
	v.SetDefault("screening.weights.dob", d.Screening.Weights.DOB)
	v.SetDefault("screening.index_mode", d.Screening.IndexMode)
	v.SetDefault("screening.workers", d.Screening.Workers)
	v.SetDefault("screening.timeout", d.Screening.Timeout)
	v.SetDefault("screening.retention", d.Screening.Retention)

	// Correlation defaults
	v.SetDefault("correlation.window", d.Correlation.Window)
	v.SetDefault("correlation.temporal_max_hours", d.Correlation.TemporalMaxHours)
	v.SetDefault("correlation.timeout", d.Correlation.Timeout)
	v.SetDefault("correlation.report_min_confidence", d.Correlation.ReportMinConfidence)
	v.SetDefault("correlation.report_limit", d.Correlation.ReportLimit)
	v.SetDefault("correlation.history_limit", d.Correlation.HistoryLimit)

	// Risk defaults
	v.SetDefault("risk.cyber_lookback", d.Risk.CyberLookback)
	v.SetDefault("risk.fraud_lookback", d.Risk.FraudLookback)
	v.SetDefault("risk.screening_lookback", d.Risk.ScreeningLookback)
	v.SetDefault("risk.screening_override", d.Risk.ScreeningOverride)

	v.SetDefault("worker.enabled", d.Worker.Enabled)

	// Observability defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.environment", d.Logging.Environment)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

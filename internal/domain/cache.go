package domain

import (
	"context"
	"time"
)

// Cache is a byte cache keyed by string. Harrier keeps each event's
// extracted IOC set in it so correlation passes skip re-extraction.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl. A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the cache.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string `mapstructure:"type"`

	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// EnableTwoPhase fronts Redis with a local LRU of LocalMaxSize entries
	// that each live at most LocalTTL.
	EnableTwoPhase bool `mapstructure:"enable_two_phase"`

	// IOCTTL bounds how long an extracted IOC set stays cached per event.
	IOCTTL time.Duration `mapstructure:"ioc_ttl"`
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrEmptyKey is returned when a cache key is blank.
var ErrEmptyKey = errors.New("cache key is required")

const defaultLocalTTL = 5 * time.Minute

// New builds the cache named by cfg.Type. "memory" is a process-local LRU.
// "redis" is Redis, fronted by a local LRU when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache reads through a local LRU (L1) to a shared cache (L2) and
// writes to both.
type TwoPhaseCache struct {
	l1    *LRUCache
	l2    domain.Cache
	l1TTL time.Duration
}

// NewTwoPhaseCache fronts Redis with a local LRU.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	l2, err := NewRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), l2, cfg.LocalTTL), nil
}

func newTwoPhase(l1 *LRUCache, l2 domain.Cache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = defaultLocalTTL
	}
	return &TwoPhaseCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

// Get checks L1, then L2. An L2 hit is copied into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.l1.Get(ctx, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.l2.Get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.l1.Set(ctx, key, val, c.l1TTL)
	return val, nil
}

// Set writes L2 and then L1. L1 never outlives the L2 entry or l1TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.l1.Set(ctx, key, value, c.localTTL(ttl))
}

func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

// Delete removes key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.l1.Delete(ctx, key)
	return c.l2.Delete(ctx, key)
}

// Ping reports the shared layer's health; L1 is always up.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.l2.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.l1.Close()
	return c.l2.Close()
}

// Stats reports the L1 layer.
func (c *TwoPhaseCache) Stats() LRUStats {
	return c.l1.Stats()
}

// IOCKey is the cache key of an event's extracted IOC set. Cyber and fraud
// IDs are separate namespaces, so the kind is part of the key.
func IOCKey(kind domain.EventKind, eventID string) string {
	return "ioc:" + string(kind) + ":" + eventID
}

// GetStrings reads a JSON string list. ok is false on a miss.
func GetStrings(ctx context.Context, c domain.Cache, key string) (values []string, ok bool, err error) {
	data, err := c.Get(ctx, key)
	if err != nil || data == nil {
		return nil, false, err
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return values, true, nil
}

// SetStrings stores values as a JSON string list.
func SetStrings(ctx context.Context, c domain.Cache, key string, values []string, ttl time.Duration) error {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

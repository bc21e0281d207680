// Package cache holds the byte caches behind the IOC lookups: an in-process
// LRU, Redis, and the two layered together.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultLocalMaxSize = 10000

// LRUStats is a point-in-time view of an LRUCache.
type LRUStats struct {
	Size      int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// LRUCache is a bounded in-process cache. Entries leave when they expire or
// when they are the least recently used and room is needed.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	recency  *list.List // front is most recent
	now      func() time.Time

	hits, misses, evictions uint64
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time // zero never expires
}

func (e *lruEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewLRUCache creates a cache holding at most capacity entries. A
// non-positive capacity uses 10000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = defaultLocalMaxSize
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Get returns the value under key, or nil, nil when it is absent or expired.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, nil
	}
	e := el.Value.(*lruEntry)
	if e.expired(c.now()) {
		c.drop(el)
		c.misses++
		return nil, nil
	}

	c.recency.MoveToFront(el)
	c.hits++
	return e.value, nil
}

// Set stores value under key. A non-positive ttl keeps the entry until it
// is evicted or deleted.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.recency.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.recency.PushFront(&lruEntry{key: key, value: value, expires: expires})
	if c.recency.Len() > c.capacity {
		c.sweepLocked()
	}
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		c.evictions++
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.drop(el)
	}
	return nil
}

// Sweep drops every expired entry and reports how many went. Set sweeps on
// its own before evicting a live entry.
func (c *LRUCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

func (c *LRUCache) sweepLocked() int {
	now := c.now()
	n := 0
	for el := c.recency.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*lruEntry).expired(now) {
			c.drop(el)
			n++
		}
		el = prev
	}
	return n
}

func (c *LRUCache) Ping(context.Context) error { return nil }

// Close empties the cache. It stays usable afterwards.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency.Init()
	return nil
}

// Stats reports size and counters.
func (c *LRUCache) Stats() LRUStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LRUStats{
		Size:      c.recency.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRUCache) drop(el *list.Element) {
	if el == nil {
		return
	}
	c.recency.Remove(el)
	delete(c.entries, el.Value.(*lruEntry).key)
}

package api

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

type cacheEntry struct {
	data     []byte
	storedAt time.Time
}

// Cache is a TTL map of response bodies. Cached values are read-only
// snapshots, so a redundant write after a concurrent miss is harmless.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]cacheEntry
}

// NewCache creates a cache. A ttl of zero or less disables caching.
func NewCache(ttl time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Cache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the body stored under key if it is younger than the TTL.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.clock.Now().Sub(entry.storedAt) >= c.ttl {
		return nil, false
	}
	return entry.data, true
}

// Set stores data under key.
func (c *Cache) Set(key string, data []byte) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{data: data, storedAt: c.clock.Now()}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

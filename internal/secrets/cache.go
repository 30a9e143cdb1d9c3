package secrets

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type cacheEntry struct {
	value      string
	expiration time.Time
}

// Cache is a thread-safe in-memory cache of secret values with a fixed TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

// NewCache creates a cache whose entries expire ttl after they are set.
func NewCache(ttl time.Duration, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the value stored under key if it has not expired.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.clock.Now().Before(entry.expiration) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Set stores value under key.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiration: c.clock.Now().Add(c.ttl)}
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of unexpired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	n := 0
	for key, entry := range c.entries {
		if now.Before(entry.expiration) {
			n++
		} else {
			delete(c.entries, key)
		}
	}
	return n
}

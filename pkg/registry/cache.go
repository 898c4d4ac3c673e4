package registry

import (
	"sync"
	"time"
)

const (
	// defaultCacheTTL is how long resolved identities stay in cache.
	defaultCacheTTL = 5 * time.Minute
	// defaultCacheMaxSize is the maximum number of entries in the cache.
	defaultCacheMaxSize = 100000
)

// resolutionCache maps key-set digests to canonical device IDs so the
// steady-state NO_CHANGE path can skip the full matcher cascade. Entries
// expire on TTL; conflicts and queue routing invalidate eagerly.
type resolutionCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	entries map[string]cacheEntry
}

type cacheEntry struct {
	deviceID  string
	expiresAt time.Time
}

func newResolutionCache(ttl time.Duration, maxSize int) *resolutionCache {
	return &resolutionCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]cacheEntry),
	}
}

func (c *resolutionCache) get(key string) string {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return ""
	}

	return entry.deviceID
}

func (c *resolutionCache) set(key, deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest(c.maxSize / 10)
	}

	c.entries[key] = cacheEntry{
		deviceID:  deviceID,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *resolutionCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *resolutionCache) evictOldest(count int) {
	now := time.Now()
	evicted := 0

	// Evict expired entries first
	for key, entry := range c.entries {
		if evicted >= count {
			break
		}

		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}

	// Evict random entries if needed
	for key := range c.entries {
		if evicted >= count {
			break
		}

		delete(c.entries, key)
		evicted++
	}
}

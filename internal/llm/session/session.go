// Package session caches the short-lived session handles and bearer
// tokens vendor adapters obtain from a login/registration round trip,
// so that concurrent requests against the same account reuse one
// session instead of each racing to create their own. The map-with-a-
// mutex shape and stale-entry replacement follow the pack's own
// session-cache pattern; the concurrent-creation coalescing is layered
// on top with golang.org/x/sync/singleflight, already present
// throughout the pack's dependency graph.
package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached session value together with its expiry.
type Entry struct {
	Value     any
	ExpiresAt time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Loader creates a fresh session value for key, valid for the returned TTL.
type Loader func(ctx context.Context, key string) (value any, ttl time.Duration, err error)

// Cache holds one Entry per key and ensures concurrent misses for the
// same key collapse into a single Loader call.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || entry.expired(time.Now()) {
		return nil, false
	}
	return entry.Value, true
}

// GetOrLoad returns the cached value for key, or calls load to create
// one if missing or expired. Concurrent calls for the same key share a
// single in-flight load.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load Loader) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the singleflight lock: another goroutine may have
		// populated the cache while this one waited to be scheduled.
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		value, ttl, err := load(ctx, key)
		if err != nil {
			return nil, err
		}

		entry := Entry{Value: value}
		if ttl > 0 {
			entry.ExpiresAt = time.Now().Add(ttl)
		}

		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()

		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Invalidate drops the cached entry for key, forcing the next
// GetOrLoad to run the Loader again. Adapters call this after a vendor
// rejects a cached token as expired.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep removes every expired entry; callers may run this periodically
// to bound memory for caches with many short-lived keys.
func (c *Cache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of entries currently cached, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Package cache provides a TTL cache for downloaded map payloads so
// revisiting a region within the expiry window avoids a network round trip.
package cache

import (
	"math"
	"sort"
	"sync"
	"time"
)

type item[V any] struct {
	value      V
	expiration int64
}

func (it item[V]) expired() bool {
	if it.expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > it.expiration
}

// TTLCache is a thread-safe cache with time-based expiration and a size
// cap. When the cap is exceeded the entries closest to expiry are evicted
// first.
type TTLCache[V any] struct {
	mu              sync.RWMutex
	items           map[string]item[V]
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	maxItems        int
	stopCleanup     chan struct{}
	cleanupStarted  sync.Once
	cleanupStopped  sync.Once
}

// New creates a cache with the given default TTL and size cap. Expired
// entries are swept every cleanupInterval; pass 0 to disable the sweeper.
func New[V any](defaultTTL, cleanupInterval time.Duration, maxItems int) *TTLCache[V] {
	c := &TTLCache[V]{
		items:           make(map[string]item[V]),
		defaultTTL:      defaultTTL,
		cleanupInterval: cleanupInterval,
		maxItems:        maxItems,
		stopCleanup:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		c.startCleanupTimer()
	}
	return c
}

// Set adds an entry with the default TTL.
func (c *TTLCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds an entry with a specific TTL. A TTL of 0 never expires.
func (c *TTLCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiration: expiration}
	if c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictOldest()
	}
}

// Get retrieves an entry, reporting whether it was present and unexpired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	it, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		var zero V
		return zero, false
	}
	if it.expired() {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return it.value, true
}

// Delete removes an entry.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Count returns the number of stored entries, expired or not.
func (c *TTLCache[V]) Count() int {
	c.mu.RLock()
	count := len(c.items)
	c.mu.RUnlock()
	return count
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]item[V])
	c.mu.Unlock()
}

// Stop terminates the cleanup goroutine.
func (c *TTLCache[V]) Stop() {
	c.cleanupStopped.Do(func() {
		close(c.stopCleanup)
	})
}

// evictOldest removes the entries closest to expiry until the cache is back
// under its cap. Entries without expiration are evicted last. The caller
// holds the lock.
func (c *TTLCache[V]) evictOldest() {
	type keyExpiration struct {
		key        string
		expiration int64
	}

	itemsToRemove := len(c.items) - c.maxItems
	if itemsToRemove <= 0 {
		return
	}

	keyExpirations := make([]keyExpiration, 0, len(c.items))
	for k, v := range c.items {
		exp := v.expiration
		if exp == 0 {
			exp = math.MaxInt64
		}
		keyExpirations = append(keyExpirations, keyExpiration{k, exp})
	}

	sort.Slice(keyExpirations, func(i, j int) bool {
		return keyExpirations[i].expiration < keyExpirations[j].expiration
	})

	for i := 0; i < itemsToRemove; i++ {
		delete(c.items, keyExpirations[i].key)
	}
}

func (c *TTLCache[V]) startCleanupTimer() {
	c.cleanupStarted.Do(func() {
		ticker := time.NewTicker(c.cleanupInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.deleteExpired()
				case <-c.stopCleanup:
					return
				}
			}
		}()
	})
}

func (c *TTLCache[V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixNano()
	for key, it := range c.items {
		if it.expiration > 0 && now > it.expiration {
			delete(c.items, key)
		}
	}
}

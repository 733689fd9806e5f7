package fetch

import "sync"

// Cache kinds reported through the hooks.
const (
	CachePayload = "payload"
	CacheFeature = "feature"
)

// CacheHooks lets the monitoring package observe cache traffic without
// creating an import cycle.
type CacheHooks struct {
	// OnHit is called when a lookup is served from a cache.
	OnHit func(kind string)

	// OnMiss is called when a lookup falls through to the pipeline.
	OnMiss func(kind string)
}

var (
	cacheHooksMu sync.RWMutex
	cacheHooks   CacheHooks
)

// SetCacheHooks installs the global cache hooks.
func SetCacheHooks(h CacheHooks) {
	cacheHooksMu.Lock()
	defer cacheHooksMu.Unlock()
	cacheHooks = h
}

func getCacheHooks() CacheHooks {
	cacheHooksMu.RLock()
	defer cacheHooksMu.RUnlock()
	return cacheHooks
}

func hookCacheHit(kind string) {
	if h := getCacheHooks(); h.OnHit != nil {
		h.OnHit(kind)
	}
}

func hookCacheMiss(kind string) {
	if h := getCacheHooks(); h.OnMiss != nil {
		h.OnMiss(kind)
	}
}

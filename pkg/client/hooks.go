package client

import (
	"sync"
	"time"
)

// MonitoringHooks lets the monitoring package observe API traffic without
// creating an import cycle.
type MonitoringHooks struct {
	// OnRequest is called when an API request is about to be sent.
	OnRequest func(endpoint string)

	// OnResponse is called when an API response has been received.
	OnResponse func(endpoint string, status int, duration time.Duration)

	// OnRateLimit is called when a request waits on the client limiter.
	OnRateLimit func(endpoint string)

	// OnError is called when a request fails.
	OnError func(endpoint string, kind string)
}

var (
	hooksMu sync.RWMutex
	hooks   MonitoringHooks
)

// SetMonitoringHooks installs the global monitoring hooks.
func SetMonitoringHooks(h MonitoringHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = h
}

func getHooks() MonitoringHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return hooks
}

func hookRequest(endpoint string) {
	if h := getHooks(); h.OnRequest != nil {
		h.OnRequest(endpoint)
	}
}

func hookResponse(endpoint string, status int, duration time.Duration) {
	if h := getHooks(); h.OnResponse != nil {
		h.OnResponse(endpoint, status, duration)
	}
}

func hookRateLimit(endpoint string) {
	if h := getHooks(); h.OnRateLimit != nil {
		h.OnRateLimit(endpoint)
	}
}

func hookError(endpoint string, kind string) {
	if h := getHooks(); h.OnError != nil {
		h.OnError(endpoint, kind)
	}
}

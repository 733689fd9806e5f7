package monitoring

import (
	"time"

	"github.com/osmedit/osmedit/pkg/client"
	"github.com/osmedit/osmedit/pkg/fetch"
	"github.com/osmedit/osmedit/pkg/ledger"
)

// InstallClientHooks routes OSM API client events into Prometheus.
func InstallClientHooks() {
	client.SetMonitoringHooks(client.MonitoringHooks{
		// OnRequest stays nil; requests are counted on response with
		// their status.
		OnResponse: func(endpoint string, status int, duration time.Duration) {
			RecordExternalServiceRequest("osm_api", endpoint, duration, status < 400)
		},
		OnRateLimit: func(endpoint string) {
			RecordRateLimitExceeded("osm_api")
		},
		OnError: func(endpoint, kind string) {
			RecordError("osm_api", kind)
		},
	})
}

// InstallFetchHooks routes fetch cache traffic into Prometheus.
func InstallFetchHooks() {
	fetch.SetCacheHooks(fetch.CacheHooks{
		OnHit:  RecordCacheHit,
		OnMiss: RecordCacheMiss,
	})
}

// ObserveLedger keeps the pending-edit gauge in sync with the ledger. It
// returns the observer handle for Unsubscribe.
func ObserveLedger(l *ledger.Ledger) int {
	UpdatePendingEdits(l.Len())
	return l.Subscribe(func(ledger.Event) {
		UpdatePendingEdits(l.Len())
	})
}

package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Service name for metrics
	ServiceName = "osmedit"
)

var (
	// Fetch pipeline metrics
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmedit_fetches_total",
			Help: "Total number of map fetches",
		},
		[]string{"status"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmedit_fetch_duration_seconds",
			Help:    "Map fetch duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"kind"},
	)

	FetchShrinksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osmedit_fetch_shrinks_total",
			Help: "Total number of bbox shrinks forced by the object limit",
		},
	)

	FetchObjects = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "osmedit_fetch_objects",
			Help:    "Objects decoded per fetch",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
	)

	// Upload metrics
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmedit_uploads_total",
			Help: "Total number of changeset uploads",
		},
		[]string{"status"},
	)

	UploadObjects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmedit_upload_objects_total",
			Help: "Objects uploaded by osmChange section",
		},
		[]string{"action"},
	)

	// Ledger metrics
	PendingEdits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osmedit_pending_edits",
			Help: "Pending objects in the edit ledger",
		},
	)

	// External service metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmedit_external_service_requests_total",
			Help: "Total number of external service requests",
		},
		[]string{"service", "operation", "status"},
	)

	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmedit_external_service_request_duration_seconds",
			Help:    "External service request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"service", "operation"},
	)

	// Rate limiting metrics
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmedit_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"service"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmedit_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmedit_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osmedit_cache_size",
			Help: "Current number of items in cache",
		},
		[]string{"cache_type"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmedit_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osmedit_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osmedit_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osmedit_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	GCRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osmedit_gc_runs_total",
			Help: "Total number of garbage collection runs",
		},
	)
)

// ServiceHealth is the health endpoint payload.
type ServiceHealth struct {
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	Status        string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime        time.Duration          `json:"uptime"`
	StartTime     time.Time              `json:"start_time,omitempty"`
	Connections   map[string]ConnStatus  `json:"connections"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
}

// ConnStatus describes one monitored connection.
type ConnStatus struct {
	Status    string `json:"status"`               // "connected", "disconnected", "error"
	Latency   int64  `json:"latency_ms,omitempty"` // Optional latency in milliseconds
	LastError string `json:"last_error,omitempty"` // Last error message if any
}

// Helper functions for common metric updates

func RecordFetch(duration time.Duration, shrinks, objects int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	FetchesTotal.WithLabelValues(status).Inc()
	FetchDuration.WithLabelValues("load").Observe(duration.Seconds())
	FetchShrinksTotal.Add(float64(shrinks))
	if success {
		FetchObjects.Observe(float64(objects))
	}
}

func RecordUpload(created, modified, deleted int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	UploadsTotal.WithLabelValues(status).Inc()
	if success {
		UploadObjects.WithLabelValues("create").Add(float64(created))
		UploadObjects.WithLabelValues("modify").Add(float64(modified))
		UploadObjects.WithLabelValues("delete").Add(float64(deleted))
	}
}

func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, status).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func UpdateCacheSize(cacheType string, size int) {
	CacheSize.WithLabelValues(cacheType).Set(float64(size))
}

func RecordRateLimitExceeded(service string) {
	RateLimitExceeded.WithLabelValues(service).Inc()
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func UpdatePendingEdits(count int) {
	PendingEdits.Set(float64(count))
}

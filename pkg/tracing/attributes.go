package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for editing-core operations
const (
	// Fetch pipeline attributes
	AttrFetchGeneration = "fetch.generation"
	AttrFetchTile       = "fetch.tile"
	AttrFetchBbox       = "fetch.bbox"
	AttrFetchStale      = "fetch.stale"
	AttrFetchObjects    = "fetch.object_count"

	// Changeset attributes
	AttrChangesetID      = "changeset.id"
	AttrChangesetCreates = "changeset.creates"
	AttrChangesetModify  = "changeset.modifies"
	AttrChangesetDeletes = "changeset.deletes"

	// External service attributes
	AttrServiceName      = "osm.service.name"
	AttrServiceOperation = "osm.service.operation"
	AttrServiceURL       = "osm.service.url"
	AttrServiceStatus    = "osm.service.status"

	// Cache attributes
	AttrCacheType = "osm.cache.type"
	AttrCacheHit  = "osm.cache.hit"
	AttrCacheKey  = "osm.cache.key"

	// Rate limiting attributes
	AttrRateLimitService = "osm.ratelimit.service"
	AttrRateLimitWaitMs  = "osm.ratelimit.wait_ms"

	// HTTP transport attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPPath       = "http.path"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Status values
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
	StatusSuperseded  = "superseded"
)

// Service names
const (
	ServiceOSMAPI    = "osmapi"
	ServiceOAuth     = "oauth"
	ServiceConverter = "converter"
)

// Cache types
const (
	CacheTypeBbox    = "bbox"
	CacheTypeFeature = "feature"
)

// Helper functions for common attributes

// FetchAttributes returns attributes for one fetch pipeline run
func FetchAttributes(generation uint64, tile int, bbox string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrFetchGeneration, int64(generation)),
		attribute.Int(AttrFetchTile, tile),
		attribute.String(AttrFetchBbox, bbox),
	}
}

// ServiceAttributes returns attributes for external service calls
func ServiceAttributes(service, operation, url string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceName, service),
		attribute.String(AttrServiceOperation, operation),
		attribute.String(AttrServiceURL, url),
		attribute.Int(AttrServiceStatus, status),
	}
}

// CacheAttributes returns attributes for cache operations
func CacheAttributes(cacheType string, hit bool, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheType, cacheType),
		attribute.Bool(AttrCacheHit, hit),
		attribute.String(AttrCacheKey, key),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}

// Package monitoring exposes Prometheus metrics and health endpoints.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Service name for metrics
	ServiceName = "citymap"
)

var (
	// Ingestion metrics
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citymap_ingest_total",
			Help: "Total number of ingestion passes by outcome",
		},
		[]string{"status"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citymap_ingest_duration_seconds",
			Help:    "Ingestion pass duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
	)

	EntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citymap_entities_total",
			Help: "Total number of entities produced by kind",
		},
		[]string{"kind"},
	)

	DroppedReferencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citymap_dropped_references_total",
			Help: "Total number of unresolved references dropped during ingestion",
		},
		[]string{"kind"},
	)

	NormalizeScale = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citymap_normalize_scale",
			Help: "Scale factor of the most recent normalization",
		},
	)

	// MCP request metrics
	MCPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citymap_mcp_requests_total",
			Help: "Total number of MCP requests processed",
		},
		[]string{"tool", "status"},
	)

	MCPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citymap_mcp_request_duration_seconds",
			Help:    "MCP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"tool"},
	)

	// External service metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citymap_external_service_requests_total",
			Help: "Total number of external service requests",
		},
		[]string{"service", "operation", "status"},
	)

	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citymap_external_service_request_duration_seconds",
			Help:    "External service request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"service", "operation"},
	)

	// Rate limiting metrics
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citymap_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limits",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citymap_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citymap_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citymap_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "citymap_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	// Graph state
	GraphEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "citymap_graph_entities",
			Help: "Entities held by the loaded map graph",
		},
		[]string{"kind"},
	)

	UpstreamUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "citymap_upstream_up",
			Help: "1 if the last request to the upstream succeeded",
		},
		[]string{"service"},
	)
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordIngest records the outcome of one ingestion pass.
func RecordIngest(duration time.Duration, success bool) {
	IngestTotal.WithLabelValues(status(success)).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordEntities adds n produced entities of the given kind.
func RecordEntities(kind string, n int) {
	if n > 0 {
		EntitiesTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordDroppedReferences adds n unresolved references of the given kind.
func RecordDroppedReferences(kind string, n int) {
	if n > 0 {
		DroppedReferencesTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordNormalization records the scale of an applied normalization.
func RecordNormalization(scale float64) {
	NormalizeScale.Set(scale)
}

func RecordMCPRequest(tool string, duration time.Duration, success bool) {
	MCPRequestsTotal.WithLabelValues(tool, status(success)).Inc()
	MCPRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, status(success)).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordCache(cacheType string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cacheType).Inc()
		return
	}
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func RecordRateLimitWait(service string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

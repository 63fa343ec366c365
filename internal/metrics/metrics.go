// Package metrics defines custom Prometheus metrics for chunkstore.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkstore_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	// For a tailed GET this covers the whole stream.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkstore_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkstore_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkstore_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Store metrics.
var (
	// OperationsTotal counts object operations by name and status.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkstore_operations_total",
			Help: "Object operations by type",
		},
		[]string{"operation", "status"},
	)

	// Objects tracks the number of names currently held, open or complete.
	Objects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunkstore_objects",
			Help: "Objects currently held in memory",
		},
	)

	// OpenUploads tracks objects whose upload has not finished.
	OpenUploads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunkstore_open_uploads",
			Help: "Uploads in progress",
		},
	)

	// BytesStored tracks the total payload held across all objects.
	BytesStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunkstore_bytes_stored",
			Help: "Bytes held across all objects",
		},
	)

	// LiveSubscribers tracks readers attached to in-progress uploads.
	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunkstore_live_subscribers",
			Help: "Readers tailing in-progress uploads",
		},
	)

	// ChunksAppendedTotal counts chunks appended by uploads.
	ChunksAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkstore_chunks_appended_total",
			Help: "Chunks appended to objects",
		},
	)

	// BytesReceivedTotal counts total bytes received in upload bodies.
	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkstore_bytes_received_total",
			Help: "Total bytes received (request bodies)",
		},
	)

	// BytesSentTotal counts total bytes sent in object bodies.
	BytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chunkstore_bytes_sent_total",
			Help: "Total bytes sent (response bodies)",
		},
	)

	// StreamEndingsTotal counts how GET streams ended.
	StreamEndingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkstore_stream_endings_total",
			Help: "Object streams by outcome",
		},
		[]string{"outcome"},
	)

	// ArchiveJobsTotal counts archive jobs by op ("put", "delete") and status.
	ArchiveJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkstore_archive_jobs_total",
			Help: "Archive sink jobs by op and status",
		},
		[]string{"op", "status"},
	)
)

// StoreStats is the subset of store statistics exported as gauges.
type StoreStats struct {
	Objects     int
	OpenUploads int
	Bytes       int64
	Subscribers int
}

// SetStoreStats updates the store gauges.
func SetStoreStats(s StoreStats) {
	Objects.Set(float64(s.Objects))
	OpenUploads.Set(float64(s.OpenUploads))
	BytesStored.Set(float64(s.Bytes))
	LiveSubscribers.Set(float64(s.Subscribers))
}

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			HTTPResponseSize,
			OperationsTotal,
			Objects,
			OpenUploads,
			BytesStored,
			LiveSubscribers,
			ChunksAppendedTotal,
			BytesReceivedTotal,
			BytesSentTotal,
			StreamEndingsTotal,
			ArchiveJobsTotal,
		)
		// Initialize OperationsTotal so it appears in /metrics output
		// even before any operations have been performed.
		OperationsTotal.WithLabelValues("PutObject", "success")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. Every object name collapses
// to "/{name}".
func NormalizePath(path string) string {
	// Known fixed paths.
	switch path {
	case "/health":
		return "/health"
	case "/healthz":
		return "/healthz"
	case "/readyz":
		return "/readyz"
	case "/docs", "/docs/":
		return "/docs"
	case "/metrics":
		return "/metrics"
	case "/openapi.json", "/openapi.yaml":
		return path
	case "/", "":
		return "/"
	}

	// Starts with /docs (Stoplight Elements assets).
	if strings.HasPrefix(path, "/docs/") {
		return "/docs"
	}
	return "/{name}"
}

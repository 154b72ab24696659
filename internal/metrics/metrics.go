// Package metrics defines the Prometheus collectors exported by the
// streaming service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Stream engine metrics
	StreamBytesTotal *prometheus.CounterVec
	StreamRetryTotal *prometheus.CounterVec
	StreamDuration   *prometheus.HistogramVec

	// Session pool metrics
	SessionPoolEntryTotal *prometheus.GaugeVec

	// Storage operation metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Ingest metrics
	IngestTotal *prometheus.CounterVec

	// Event publishing metrics
	EventPublishTotal *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates (or returns the already-created) Metrics instance.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		StreamBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_bytes_total",
			Help: "Total bytes delivered by the stream engine",
		}, []string{"kind"}),

		StreamRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_retry_total",
			Help: "Total self-heal retries attempted by the stream engine",
		}, []string{"reason"}),

		StreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stream_duration_seconds",
			Help:    "Duration of a complete stream request",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),

		SessionPoolEntryTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "session_pool_entries",
			Help: "Number of live session-pool entries",
		}, []string{}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_total",
			Help: "Total number of ingest operations",
		}, []string{"source", "status"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),
	}

	registerMetrics(m)
	globalMetrics = m
	return m
}

func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.StreamBytesTotal)
	registerOrGet(m.StreamRetryTotal)
	registerOrGet(m.StreamDuration)
	registerOrGet(m.SessionPoolEntryTotal)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.IngestTotal)
	registerOrGet(m.EventPublishTotal)
}

// registerOrGet registers c, or returns the already-registered collector
// of the same name if NewMetrics runs more than once in a process (as
// happens across table-driven tests).
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// Package metrics provides Prometheus metrics for the glucoscore service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the glucoscore service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Core business metrics
	observationsRecorded  prometheus.Counter
	observationsDuplicate prometheus.Counter
	observationsTotal     prometheus.Gauge
	predictions           *prometheus.CounterVec
	predictionLatency     prometheus.Histogram
	trainingRows          prometheus.Gauge
	lastR2                prometheus.Gauge
	validationFailures    *prometheus.CounterVec

	// Store metrics
	storeAppendLatency   prometheus.Histogram
	storeSnapshotLatency prometheus.Histogram
	storeErrors          *prometheus.CounterVec

	// Idempotency cache
	dedupeSize prometheus.Gauge

	// HTTP performance metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByType     *prometheus.CounterVec
	errorRateByEndpoint *prometheus.CounterVec
	errorLatency        *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "glucoscore",
		subsystem:        "predictor",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.observationsRecorded = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("observations_recorded_total"),
		Help:        "Total number of observations appended to the store",
		ConstLabels: labels,
	})

	m.observationsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("observations_duplicate_total"),
		Help:        "Total number of replayed observation writes answered from the idempotency cache",
		ConstLabels: labels,
	})

	m.observationsTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("observations"),
		Help:        "Number of observations currently held by the store",
		ConstLabels: labels,
	})

	m.predictions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("predictions_total"),
		Help:        "Total number of predictions by strategy",
		ConstLabels: labels,
	}, []string{"strategy"})

	m.predictionLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("prediction_latency_milliseconds"),
		Help:        "Histogram of prediction latency in milliseconds, snapshot included",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.trainingRows = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("training_rows"),
		Help:        "Number of rows used by the most recent prediction",
		ConstLabels: labels,
	})

	m.lastR2 = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("last_r2"),
		Help:        "Coefficient of determination of the most recent fitted model",
		ConstLabels: labels,
	})

	m.validationFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("validation_failures_total"),
		Help:        "Total number of rejected fields by schema and field name",
		ConstLabels: labels,
	}, []string{"schema", "field"})

	m.storeAppendLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("store_append_latency_milliseconds"),
		Help:        "Observation store append latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.storeSnapshotLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("store_snapshot_latency_milliseconds"),
		Help:        "Observation store snapshot latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("store_errors_total"),
		Help:        "Total number of observation store failures by operation",
		ConstLabels: labels,
	}, []string{"operation"})

	m.dedupeSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("idempotency_keys"),
		Help:        "Number of idempotency keys currently remembered",
		ConstLabels: labels,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_requests_total"),
		Help:        "Total number of HTTP requests by endpoint and method",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_request_duration_milliseconds"),
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByType = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("errors_by_type_total"),
		Help:        "Total number of errors by type and severity",
		ConstLabels: labels,
	}, []string{"error_type", "severity"})

	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("errors_by_endpoint_total"),
		Help:        "Total number of errors by endpoint, method and type",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "error_type"})

	m.errorLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("error_latency_milliseconds"),
		Help:        "Latency of operations that resulted in an error",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_memory_usage_bytes"),
		Help:        "System memory usage in bytes",
		ConstLabels: labels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_goroutine_count"),
		Help:        "Number of goroutines",
		ConstLabels: labels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: labels,
	})
}

// Enabled reports whether the global manager records metrics.
func Enabled() bool {
	return globalManager.enabled
}

// RecordObservationRecorded increments the recorded observations counter.
func RecordObservationRecorded() {
	if !globalManager.enabled {
		return
	}
	globalManager.observationsRecorded.Inc()
}

// RecordObservationDuplicate increments the replayed writes counter.
func RecordObservationDuplicate() {
	if !globalManager.enabled {
		return
	}
	globalManager.observationsDuplicate.Inc()
}

// UpdateObservationCount sets the number of stored observations.
func UpdateObservationCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.observationsTotal.Set(float64(count))
}

// RecordPrediction records one prediction: its strategy, the rows used and its latency.
func RecordPrediction(strategy string, rows int, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.predictions.WithLabelValues(strategy).Inc()
	globalManager.trainingRows.Set(float64(rows))
	globalManager.predictionLatency.Observe(latencyMs)
}

// UpdateLastR2 sets the goodness of fit of the most recent fitted model.
func UpdateLastR2(r2 float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.lastR2.Set(r2)
}

// RecordValidationFailure increments the rejected field counter.
func RecordValidationFailure(schema, field string) {
	if !globalManager.enabled {
		return
	}
	globalManager.validationFailures.WithLabelValues(schema, field).Inc()
}

// RecordStoreAppendLatency records store append latency in milliseconds.
func RecordStoreAppendLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeAppendLatency.Observe(latencyMs)
}

// RecordStoreSnapshotLatency records store snapshot latency in milliseconds.
func RecordStoreSnapshotLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeSnapshotLatency.Observe(latencyMs)
}

// RecordStoreError increments the store failure counter for an operation.
func RecordStoreError(operation string) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeErrors.WithLabelValues(operation).Inc()
}

// UpdateDedupeSize sets the number of remembered idempotency keys.
func UpdateDedupeSize(size int64) {
	if !globalManager.enabled {
		return
	}
	globalManager.dedupeSize.Set(float64(size))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RefreshInterval returns how often gauges backed by polling should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

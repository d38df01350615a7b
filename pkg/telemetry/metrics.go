package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the sync service.
type Metrics struct {
	config MetricsConfig

	// Sync metrics
	syncsStarted   prometheus.Counter
	syncsCompleted *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec

	// Pipeline metrics
	batchesFetched     prometheus.Counter
	resourcesProcessed prometheus.Counter
	resourcesMatched   prometheus.Counter

	// Upload metrics
	uploadRows   *prometheus.CounterVec
	uploadErrors prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeSync       prometheus.Gauge
	dimensionsLoaded prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given
// configuration. A disabled config yields a no-op instance.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		syncsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_started_total",
				Help:      "Total number of sync runs started",
			},
		),
		syncsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_completed_total",
				Help:      "Total number of sync runs finished, by terminal status",
			},
			[]string{"status"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of sync runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		batchesFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_fetched_total",
				Help:      "Total number of resource batches fetched",
			},
		),
		resourcesProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_processed_total",
				Help:      "Total number of resources resolved",
			},
		),
		resourcesMatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_matched_total",
				Help:      "Total number of resources matching at least one statement",
			},
		),

		uploadRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_rows_total",
				Help:      "Total number of virtual tag rows uploaded, by operation",
			},
			[]string{"operation"},
		),
		uploadErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_errors_total",
				Help:      "Total number of failed upload chunks",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		activeSync: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sync",
				Help:      "Whether a sync run is currently in progress (0 or 1)",
			},
		),
		dimensionsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dimensions_loaded",
				Help:      "Number of dimensions in the active rule set",
			},
		),
	}

	registry.MustRegister(
		m.syncsStarted,
		m.syncsCompleted,
		m.syncDuration,
		m.batchesFetched,
		m.resourcesProcessed,
		m.resourcesMatched,
		m.uploadRows,
		m.uploadErrors,
		m.errorsByClass,
		m.activeSync,
		m.dimensionsLoaded,
	)

	return m, nil
}

// RecordSyncStarted marks a sync run as started.
func (m *Metrics) RecordSyncStarted() {
	if m.syncsStarted == nil {
		return
	}
	m.syncsStarted.Inc()
	m.activeSync.Set(1)
}

// RecordSyncCompleted records a finished sync run with its terminal
// status and duration.
func (m *Metrics) RecordSyncCompleted(status string, duration time.Duration) {
	if m.syncsCompleted == nil {
		return
	}
	m.syncsCompleted.WithLabelValues(status).Inc()
	m.syncDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeSync.Set(0)
}

// RecordBatch records one fetched batch and its resolution counts.
func (m *Metrics) RecordBatch(processed, matched int) {
	if m.batchesFetched == nil {
		return
	}
	m.batchesFetched.Inc()
	m.resourcesProcessed.Add(float64(processed))
	m.resourcesMatched.Add(float64(matched))
}

// RecordUpload records uploaded row counts by operation.
func (m *Metrics) RecordUpload(operation string, rows int) {
	if m.uploadRows == nil {
		return
	}
	m.uploadRows.WithLabelValues(operation).Add(float64(rows))
}

// RecordUploadError records a failed upload chunk.
func (m *Metrics) RecordUploadError() {
	if m.uploadErrors == nil {
		return
	}
	m.uploadErrors.Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// SetDimensionsLoaded sets the active dimension count.
func (m *Metrics) SetDimensionsLoaded(count int) {
	if m.dimensionsLoaded == nil {
		return
	}
	m.dimensionsLoaded.Set(float64(count))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

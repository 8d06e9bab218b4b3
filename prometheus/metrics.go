package prometheus

import (
	"strconv"
	"time"

	"churn-service/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   prometheus.CounterVec
	HttpRequestDuration prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsCounter prometheus.Counter
	AuthSuccessCounter  prometheus.Counter
	AuthErrorsCounter   prometheus.Counter

	// Tenant context metrics
	TenantContextMissingCounter prometheus.Counter

	// Database operation metrics
	DbOperationDuration prometheus.HistogramVec

	// CRM sync metrics
	SyncOperationsCounter prometheus.CounterVec
	SyncDuration          prometheus.HistogramVec
	SyncedRecordsCounter  prometheus.CounterVec
	SyncRejectedCounter   prometheus.Counter

	// Prediction metrics
	PredictionsCounter       prometheus.CounterVec
	PredictionDuration       prometheus.Histogram
	PredictionErrorsCounter  prometheus.CounterVec
	HighRiskCustomersGauge   prometheus.GaugeVec
	ModelLoadsCounter        prometheus.CounterVec

	// initialized guards the helper functions so pipeline code can run
	// (e.g. under test) before InitMetrics has been called.
	initialized bool
)

// InitMetrics initializes Prometheus metrics with configuration
func InitMetrics(config *config.Config) {
	prefix := config.Metrics.Prefix

	HttpRequestsTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AuthAttemptsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
	)

	AuthSuccessCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_auth_success_total",
			Help: "Total number of successful authentications",
		},
	)

	AuthErrorsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_auth_errors_total",
			Help: "Total number of authentication errors",
		},
	)

	TenantContextMissingCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_tenant_context_missing_total",
			Help: "Total number of requests without tenant context",
		},
	)

	DbOperationDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	SyncOperationsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_sync_operations_total",
			Help: "Total number of CRM sync runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	SyncDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_sync_duration_seconds",
			Help:    "Duration of CRM sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	SyncedRecordsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_synced_records_total",
			Help: "Total number of CRM records synced by entity and action",
		},
		[]string{"entity", "action"},
	)

	SyncRejectedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_sync_rejected_total",
			Help: "Total number of sync requests rejected because one was already running",
		},
	)

	PredictionsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_predictions_total",
			Help: "Total number of churn predictions by risk tier",
		},
		[]string{"risk"},
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_prediction_duration_seconds",
			Help:    "Duration of single-customer scoring in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PredictionErrorsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_prediction_errors_total",
			Help: "Total number of prediction failures by reason",
		},
		[]string{"reason"},
	)

	HighRiskCustomersGauge = *promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: prefix + "_high_risk_customers",
			Help: "Number of high-risk customers per tenant",
		},
		[]string{"tenant_id"},
	)

	ModelLoadsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_model_loads_total",
			Help: "Total number of model artifact loads by version and outcome",
		},
		[]string{"version", "outcome"},
	)

	initialized = true
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		if !initialized {
			return
		}
		duration := time.Since(startTime).Seconds()
		DbOperationDuration.WithLabelValues(operationType).Observe(duration)
	}
}

// RecordSyncOperation increments the sync run counter
func RecordSyncOperation(mode, outcome string) {
	if !initialized {
		return
	}
	SyncOperationsCounter.WithLabelValues(mode, outcome).Inc()
}

// RecordSyncedRecords adds to the synced record counter for an entity
func RecordSyncedRecords(entity, action string, count int) {
	if !initialized {
		return
	}
	SyncedRecordsCounter.WithLabelValues(entity, action).Add(float64(count))
}

// RecordSyncDuration observes how long a sync run took
func RecordSyncDuration(mode string, seconds float64) {
	if !initialized {
		return
	}
	SyncDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordSyncRejected increments the rejected-sync counter
func RecordSyncRejected() {
	if !initialized {
		return
	}
	SyncRejectedCounter.Inc()
}

// RecordPredictionDuration observes how long a single scoring took
func RecordPredictionDuration(duration float64) {
	if !initialized {
		return
	}
	PredictionDuration.Observe(duration)
}

// RecordPrediction increments the prediction counter for a risk tier
func RecordPrediction(risk string) {
	if !initialized {
		return
	}
	PredictionsCounter.WithLabelValues(risk).Inc()
}

// RecordPredictionError increments the prediction error counter
func RecordPredictionError(reason string) {
	if !initialized {
		return
	}
	PredictionErrorsCounter.WithLabelValues(reason).Inc()
}

// UpdateHighRiskCustomers updates the high-risk gauge for a tenant
func UpdateHighRiskCustomers(tenantID uint, count int) {
	if !initialized {
		return
	}
	HighRiskCustomersGauge.WithLabelValues(strconv.FormatUint(uint64(tenantID), 10)).Set(float64(count))
}

// RecordModelLoad increments the model load counter
func RecordModelLoad(version, outcome string) {
	if !initialized {
		return
	}
	ModelLoadsCounter.WithLabelValues(version, outcome).Inc()
}

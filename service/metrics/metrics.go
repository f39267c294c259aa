package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Content storage Metrics
	uploadsTotal   *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	uploadBytes    *prometheus.HistogramVec

	// Token creation Metrics
	creationsTotal       *prometheus.CounterVec
	creationDuration     *prometheus.HistogramVec
	confirmationsTotal   *prometheus.CounterVec
	confirmationDuration *prometheus.HistogramVec
	confirmationPolls    *prometheus.HistogramVec
	preparedCreations    prometheus.Gauge

	// Workflow Metrics
	reconcileWorkflowDuration *prometheus.HistogramVec
	reconcileActivityDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Content storage Metrics
		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_uploads_total",
				Help: "Total number of off-chain content uploads by kind and status",
			},
			[]string{"kind", "status"},
		),
		uploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "content_upload_duration_seconds",
				Help:    "Duration of off-chain content uploads in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		uploadBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "content_upload_bytes",
				Help:    "Size of uploaded content in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"kind"},
		),

		// Token creation Metrics
		creationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_creations_total",
				Help: "Total number of token creation attempts by outcome",
			},
			[]string{"outcome"},
		),
		creationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_creation_duration_seconds",
				Help:    "End-to-end duration of token creation in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_confirmations_total",
				Help: "Total number of confirmation waits by outcome",
			},
			[]string{"outcome"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_duration_seconds",
				Help:    "Time from broadcast to a confirmation outcome in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
		confirmationPolls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_polls",
				Help:    "Number of signature status polls per confirmation wait",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"outcome"},
		),
		preparedCreations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "prepared_creations",
				Help: "Number of prepared creations waiting for a fee payer signature",
			},
		),

		// Workflow Metrics
		reconcileWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_workflow_duration_seconds",
				Help:    "Duration of receipt reconciliation workflows in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		reconcileActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_activity_duration_seconds",
				Help:    "Duration of reconciliation activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 10, 60},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Content storage metric helpers

// RecordUpload records one upload attempt. kind is "image" or "metadata".
func (m *Metrics) RecordUpload(kind string, size int, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.uploadsTotal.WithLabelValues(kind, status).Inc()
	m.uploadDuration.WithLabelValues(kind).Observe(duration)
	if err == nil {
		m.uploadBytes.WithLabelValues(kind).Observe(float64(size))
	}
}

// Token creation metric helpers

// RecordCreation records the outcome of an end-to-end creation.
func (m *Metrics) RecordCreation(outcome string, duration float64) {
	m.creationsTotal.WithLabelValues(outcome).Inc()
	m.creationDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordConfirmation records a confirmation wait.
func (m *Metrics) RecordConfirmation(outcome string, polls int, duration float64) {
	m.confirmationsTotal.WithLabelValues(outcome).Inc()
	m.confirmationDuration.WithLabelValues(outcome).Observe(duration)
	m.confirmationPolls.WithLabelValues(outcome).Observe(float64(polls))
}

// SetPreparedCreations records the size of the prepared-creation cache.
func (m *Metrics) SetPreparedCreations(n int) {
	m.preparedCreations.Set(float64(n))
}

// Workflow metric helpers

// RecordReconcileWorkflow records a finished reconciliation workflow.
func (m *Metrics) RecordReconcileWorkflow(status string, duration float64) {
	m.reconcileWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.reconcileActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}

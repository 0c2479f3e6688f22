package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the facilitator.
type Metrics struct {
	// Request metrics
	VerifyRequestsTotal *prometheus.CounterVec
	SettleRequestsTotal *prometheus.CounterVec
	HealthRequestsTotal prometheus.Counter
	RequestDuration     *prometheus.HistogramVec

	// Verification outcome metrics
	VerificationSuccessTotal *prometheus.CounterVec
	VerificationFailureTotal *prometheus.CounterVec

	// Settlement metrics
	SettlementDuration *prometheus.HistogramVec

	// Account cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheSize        prometheus.Gauge

	// RPC call metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Webhook metrics
	WebhookDeliveriesTotal   *prometheus.CounterVec
	WebhookRetriesTotal      *prometheus.CounterVec
	WebhookDuration          *prometheus.HistogramVec
	WebhookQueueDroppedTotal prometheus.Counter

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Audit metrics
	AuditEventsDroppedTotal prometheus.Counter
	DBQueryDuration         *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Request metrics
		VerifyRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_verify_requests_total",
				Help: "Total number of verification requests",
			},
			[]string{"network"},
		),
		SettleRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_settle_requests_total",
				Help: "Total number of settlement requests",
			},
			[]string{"network", "status"},
		),
		HealthRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "x402_health_requests_total",
				Help: "Total number of health check requests",
			},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_request_duration_seconds",
				Help:    "HTTP request duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint", "method"},
		),

		// Verification outcome metrics
		VerificationSuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_verification_success_total",
				Help: "Total number of payments that passed verification",
			},
			[]string{"network"},
		),
		VerificationFailureTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_verification_failure_total",
				Help: "Total number of payments that failed verification",
			},
			[]string{"network", "reason"},
		),

		// Settlement metrics
		SettlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_settlement_duration_seconds",
				Help:    "Time from settlement request to on-chain confirmation",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"network"},
		),

		// Account cache metrics
		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_cache_hits_total",
				Help: "Total number of account cache hits",
			},
			[]string{"account_type"},
		),
		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_cache_misses_total",
				Help: "Total number of account cache misses",
			},
			[]string{"account_type"},
		),
		CacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "x402_cache_size",
				Help: "Current number of entries in the account cache",
			},
		),

		// RPC call metrics
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rpc_calls_total",
				Help: "Total number of RPC calls to the chain",
			},
			[]string{"method"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_rpc_call_duration_seconds",
				Help:    "Duration of RPC calls to the chain (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rpc_errors_total",
				Help: "Total number of RPC errors",
			},
			[]string{"method", "error_type"},
		),

		// Webhook metrics
		WebhookDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts by final status",
			},
			[]string{"event", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_webhook_retries_total",
				Help: "Total number of webhook retry attempts",
			},
			[]string{"event", "attempt"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_webhook_duration_seconds",
				Help:    "Time taken for webhook delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event"},
		),
		WebhookQueueDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "x402_webhook_queue_dropped_total",
				Help: "Total number of webhook events dropped because the queue was full",
			},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rate_limit_hits_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),

		// Audit metrics
		AuditEventsDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "x402_audit_events_dropped_total",
				Help: "Total number of audit events dropped because the queue was full",
			},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_db_query_duration_seconds",
				Help:    "Audit journal query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveVerify records a verification request and its outcome.
func (m *Metrics) ObserveVerify(network string, valid bool, reason string) {
	m.VerifyRequestsTotal.WithLabelValues(network).Inc()
	if valid {
		m.VerificationSuccessTotal.WithLabelValues(network).Inc()
	} else {
		m.VerificationFailureTotal.WithLabelValues(network, reason).Inc()
	}
}

// ObserveSettle records a settlement request and its outcome.
func (m *Metrics) ObserveSettle(network, status string, duration time.Duration) {
	m.SettleRequestsTotal.WithLabelValues(network, status).Inc()
	m.SettlementDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveRequest records an HTTP request duration.
func (m *Metrics) ObserveRequest(endpoint, method string, duration time.Duration) {
	m.RequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// ObserveRPCCall records an RPC call to the chain.
func (m *Metrics) ObserveRPCCall(method string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method).Inc()
	m.RPCCallDuration.WithLabelValues(method).Observe(duration.Seconds())

	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(method, categorizeRPCError(err)).Inc()
	}
}

// ObserveCacheHit records an account cache hit.
func (m *Metrics) ObserveCacheHit(accountType string) {
	m.CacheHitsTotal.WithLabelValues(accountType).Inc()
}

// ObserveCacheMiss records an account cache miss.
func (m *Metrics) ObserveCacheMiss(accountType string) {
	m.CacheMissesTotal.WithLabelValues(accountType).Inc()
}

// SetCacheSize updates the cache size gauge.
func (m *Metrics) SetCacheSize(n int) {
	m.CacheSize.Set(float64(n))
}

// ObserveWebhook records a webhook delivery attempt.
func (m *Metrics) ObserveWebhook(event, status string, duration time.Duration, attempt int) {
	m.WebhookDeliveriesTotal.WithLabelValues(event, status).Inc()
	m.WebhookDuration.WithLabelValues(event).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(event, formatAttempt(attempt)).Inc()
	}
}

// WebhookQueueDropped records an event dropped from a full webhook queue.
func (m *Metrics) WebhookQueueDropped() {
	m.WebhookQueueDroppedTotal.Inc()
}

// ObserveRateLimit records a request rejected by the rate limiter.
func (m *Metrics) ObserveRateLimit(endpoint string) {
	m.RateLimitHitsTotal.WithLabelValues(endpoint).Inc()
}

// AuditEventDropped records an audit event dropped from a full queue.
func (m *Metrics) AuditEventDropped() {
	m.AuditEventsDroppedTotal.Inc()
}

// ObserveDBQuery records an audit journal database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// categorizeRPCError buckets RPC failures into coarse label values so the
// error_type cardinality stays bounded.
func categorizeRPCError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "circuit breaker"):
		return "circuit_open"
	default:
		return "other"
	}
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}

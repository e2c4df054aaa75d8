package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exported by the HTTP middleware.
const (
	MetricRateLimitRequests     = "feed_rate_limit_requests_total"
	MetricRateLimitBlocked      = "feed_rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "feed_rate_limit_redis_errors_total"
	MetricHTTPRequestDuration   = "feed_http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "feed_http_requests_total"
	MetricHTTPResponseSizeBytes = "feed_http_response_size_bytes"
)

// httpLabels are the label names shared by the per-request HTTP metrics.
var httpLabels = []string{"method", "route", "status"}

// Metrics holds the Prometheus collectors for HTTP middleware.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpResponseSize     *prometheus.HistogramVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		rateLimitRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitRequests,
				Help: "Rate limit checks by route and key type",
			},
			[]string{"route", "key_type"},
		),
		rateLimitBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitBlocked,
				Help: "Requests rejected with 429 by route and key type",
			},
			[]string{"route", "key_type"},
		),
		rateLimitRedisErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRateLimitRedisErrors,
				Help: "Redis failures during rate limiting (requests allowed through)",
			},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: MetricHTTPRequestDuration,
				Help: "HTTP request latency in seconds",
				// Feed generation is expected to stay well under 100ms.
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			httpLabels,
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "HTTP requests served",
			},
			httpLabels,
		),
		httpResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPResponseSizeBytes,
				Help:    "HTTP response body size in bytes",
				Buckets: prometheus.ExponentialBuckets(128, 4, 8),
			},
			httpLabels,
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests counts one rate limit check.
func (m *Metrics) IncRateLimitRequests(route, keyType string) {
	m.rateLimitRequests.WithLabelValues(route, keyType).Inc()
}

// IncRateLimitBlocked counts one rejected request.
func (m *Metrics) IncRateLimitBlocked(route, keyType string) {
	m.rateLimitBlocked.WithLabelValues(route, keyType).Inc()
}

// IncRateLimitRedisErrors counts a fail-open event.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitRedisErrors.Inc()
}

// ObserveHTTPRequest records one served request. route must already be
// normalized.
func (m *Metrics) ObserveHTTPRequest(method, route, status string, seconds float64, responseSize int64) {
	m.httpRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
	m.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.httpResponseSize.WithLabelValues(method, route, status).Observe(float64(responseSize))
}

// Collectors returns all collectors, for tests and custom registries.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpResponseSize,
	}
}

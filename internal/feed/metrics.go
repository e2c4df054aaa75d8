package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRequests        = "feed_requests_total"
	MetricFallbacks       = "feed_trending_fallbacks_total"
	MetricCandidates      = "feed_candidates"
	MetricSponsored       = "feed_sponsored_injected_total"
	MetricDuration        = "feed_generation_duration_seconds"
	MetricNearbyPublisher = "feed_nearby_publishers"
)

// Operation label values.
const (
	OpPersonalized = "personalized"
	OpTrending     = "trending"
	OpNearby       = "nearby"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Fallback reason label values.
const (
	FallbackViewerNotFound = "viewer_not_found"
	FallbackNoCandidates   = "no_candidates"
)

// Metrics contains Prometheus metrics for feed generation.
// All operations are thread-safe.
type Metrics struct {
	requests         *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	candidates       prometheus.Histogram
	sponsored        prometheus.Counter
	duration         *prometheus.HistogramVec
	nearbyPublishers prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRequests,
			Help: "Total number of feed requests by operation and outcome",
		}, []string{"operation", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFallbacks,
			Help: "Total number of personalized feed requests served from trending",
		}, []string{"reason"}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCandidates,
			Help:    "Number of raw candidates retrieved per personalized feed request",
			Buckets: []float64{0, 10, 50, 100, 200, 500, 1000},
		}),
		sponsored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSponsored,
			Help: "Total number of sponsored entries inserted into personalized feeds",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricDuration,
			Help:    "Feed generation latency in seconds by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
		nearbyPublishers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricNearbyPublisher,
			Help:    "Number of publishers inside the requested radius per nearby request",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.fallbacks,
		m.candidates,
		m.sponsored,
		m.duration,
		m.nearbyPublishers,
	}
}

// ObserveRequest records a finished feed request.
func (m *Metrics) ObserveRequest(operation string, seconds float64, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(seconds)
}

// IncFallback increments the trending fallback counter.
func (m *Metrics) IncFallback(reason string) {
	m.fallbacks.WithLabelValues(reason).Inc()
}

// ObserveCandidates records the size of a candidate fetch.
func (m *Metrics) ObserveCandidates(n int) {
	m.candidates.Observe(float64(n))
}

// AddSponsored adds n inserted ads.
func (m *Metrics) AddSponsored(n int) {
	m.sponsored.Add(float64(n))
}

// ObserveNearbyPublishers records how many publishers matched a radius.
func (m *Metrics) ObserveNearbyPublishers(n int) {
	m.nearbyPublishers.Observe(float64(n))
}

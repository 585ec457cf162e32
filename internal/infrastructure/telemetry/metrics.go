package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream call outcomes used as the "outcome" label
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeMalformed   = "malformed"
	OutcomeFailed      = "failed"
)

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Namespace prefixes every metric name. Default: "kds"
	Namespace string
	// IncludeRuntime registers the Go runtime and process collectors.
	IncludeRuntime bool
	// HistogramBuckets are the buckets for duration histograms.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64
}

// Metrics is the Prometheus metric set of the service. It owns its registry so
// tests can create as many instances as they like. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamRetries  *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	syncDuration     prometheus.Histogram
	syncedOrders     prometheus.Gauge
	toggles          *prometheus.CounterVec
	persistFailures  prometheus.Counter
	realtimeClients  *prometheus.GaugeVec
	realtimeDropped  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers the metric set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "kds"
	}
	if len(cfg.HistogramBuckets) == 0 {
		cfg.HistogramBuckets = prometheus.DefBuckets
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream order API calls by endpoint and final outcome.",
	}, []string{"endpoint", "outcome"})

	m.upstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Rate-limited upstream attempts that were retried.",
	}, []string{"endpoint"})

	m.upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Duration of upstream calls including retries.",
		Buckets:   cfg.HistogramBuckets,
	}, []string{"endpoint"})

	m.syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Duration of one order synchronization.",
		Buckets:   cfg.HistogramBuckets,
	})

	m.syncedOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: "sync",
		Name:      "orders",
		Help:      "Orders returned by the most recent synchronization.",
	})

	m.toggles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "completion",
		Name:      "toggles_total",
		Help:      "Completion toggles by transport and result.",
	}, []string{"transport", "result"})

	m.persistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "completion",
		Name:      "persist_failures_total",
		Help:      "Failed writes of the completion snapshot.",
	})

	m.realtimeClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: "realtime",
		Name:      "clients",
		Help:      "Connected realtime clients by transport.",
	}, []string{"transport"})

	m.realtimeDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "realtime",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a client queue was full.",
	}, []string{"transport"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   cfg.HistogramBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.upstreamRequests,
		m.upstreamRetries,
		m.upstreamDuration,
		m.syncDuration,
		m.syncedOrders,
		m.toggles,
		m.persistFailures,
		m.realtimeClients,
		m.realtimeDropped,
		m.httpRequests,
		m.httpDuration,
	)
	if cfg.IncludeRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveUpstream records the final outcome and duration of one upstream call.
func (m *Metrics) ObserveUpstream(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// IncUpstreamRetry counts one retried upstream attempt.
func (m *Metrics) IncUpstreamRetry(endpoint string) {
	if m == nil {
		return
	}
	m.upstreamRetries.WithLabelValues(endpoint).Inc()
}

// ObserveSync records one synchronization run.
func (m *Metrics) ObserveSync(d time.Duration, orders int) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(d.Seconds())
	m.syncedOrders.Set(float64(orders))
}

// IncToggle counts one completion toggle.
func (m *Metrics) IncToggle(transport, result string) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(transport, result).Inc()
}

// IncPersistFailure counts one failed snapshot write.
func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// AddRealtimeClients adjusts the connected client gauge for a transport.
func (m *Metrics) AddRealtimeClients(transport string, delta int) {
	if m == nil {
		return
	}
	m.realtimeClients.WithLabelValues(transport).Add(float64(delta))
}

// IncRealtimeDropped counts one message dropped for a slow client.
func (m *Metrics) IncRealtimeDropped(transport string) {
	if m == nil {
		return
	}
	m.realtimeDropped.WithLabelValues(transport).Inc()
}

// ObserveHTTP records one served HTTP request. route is the matched route
// pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Package metrics defines the Prometheus instrumentation for the
// explorer: its own HTTP surface, calls to the upstream registry, and
// the stream bridges that fan events out to browsers.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport labels for stream metrics.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Metrics holds every metric family the explorer exports.
type Metrics struct {
	// HTTP metrics for the explorer's own API.
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec

	// Upstream registry metrics.
	RegistryRequestsTotal   *prometheus.CounterVec
	RegistryRequestDuration *prometheus.HistogramVec
	RegistryErrors          *prometheus.CounterVec

	// Stream bridge metrics, labelled by transport and channel.
	StreamConnections      *prometheus.GaugeVec
	StreamConnectionsTotal *prometheus.CounterVec
	StreamEventsSent       *prometheus.CounterVec

	// Rate limiting.
	RateLimitRejected *prometheus.CounterVec

	// Registry health probes.
	HealthCheckDuration *prometheus.HistogramVec
	HealthCheckStatus   *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry registers all metrics on a custom registry. Tests
// use this to avoid duplicate registration across cases.
func NewWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscan_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentscan_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentscan_http_request_size_bytes",
				Help:    "HTTP request sizes in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentscan_http_response_size_bytes",
				Help:    "HTTP response sizes in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentscan_http_requests_active",
				Help: "Number of in-flight HTTP requests",
			},
			[]string{"method", "path"},
		),

		RegistryRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscan_registry_requests_total",
				Help: "Total number of requests to the upstream registry",
			},
			[]string{"operation", "status"},
		),
		RegistryRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentscan_registry_request_duration_seconds",
				Help:    "Upstream registry request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RegistryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscan_registry_errors_total",
				Help: "Total number of upstream registry errors",
			},
			[]string{"operation", "error_type"},
		),

		StreamConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentscan_stream_connections_active",
				Help: "Number of active stream connections",
			},
			[]string{"transport", "channel"},
		),
		StreamConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscan_stream_connections_total",
				Help: "Total number of stream connections",
			},
			[]string{"transport", "channel", "status"},
		),
		StreamEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscan_stream_events_sent_total",
				Help: "Total number of events fanned out to clients",
			},
			[]string{"transport", "channel"},
		),

		RateLimitRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentscan_rate_limit_rejected_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"path"},
		),

		HealthCheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentscan_health_check_duration_seconds",
				Help:    "Registry health probe durations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"check"},
		),
		HealthCheckStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentscan_health_check_status",
				Help: "Registry health probe status (1 = healthy, 0 = unhealthy)",
			},
			[]string{"check"},
		),

		gatherer: gatherer,
	}
}

// Handler serves the metrics in Prometheus exposition format, bound to
// the registry this Metrics was created with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// maxPathLabel bounds label length for pathological request paths.
const maxPathLabel = 64

// NormalizePath collapses identifier segments so path labels stay low
// cardinality: numeric segments become :chain, hex addresses and token
// IDs become :id.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		switch {
		case seg == "":
		case strings.HasPrefix(seg, "0x") || strings.HasPrefix(seg, "0X"):
			segments[i] = ":id"
		case isDigits(seg):
			segments[i] = ":chain"
		}
	}

	normalized := strings.Join(segments, "/")
	if len(normalized) > maxPathLabel {
		return normalized[:maxPathLabel] + "..."
	}
	return normalized
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

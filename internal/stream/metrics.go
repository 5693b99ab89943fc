package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client-side stream counters. A nil *Metrics disables
// collection.
type Metrics struct {
	Connects    prometheus.Counter
	Reconnects  prometheus.Counter
	Events      prometheus.Counter
	ParseErrors prometheus.Counter
	Open        prometheus.Gauge
}

// NewMetrics registers the stream metrics with the given registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentscan_stream_connects_total",
			Help: "Upstream event stream dials, including reconnects",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentscan_stream_reconnects_total",
			Help: "Reconnect attempts after transport failures",
		}),
		Events: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentscan_stream_events_total",
			Help: "Events delivered to message callbacks",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentscan_stream_parse_errors_total",
			Help: "Events dropped because their payload was not valid JSON",
		}),
		Open: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentscan_stream_open",
			Help: "Event streams currently open",
		}),
	}
}

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StreamInstruments are meter-backed instruments for the stream bridge
// endpoints, covering what the Prometheus request families do not:
// payload volume and session length per transport.
type StreamInstruments struct {
	bytesSent       metric.Int64Counter
	sessionDuration metric.Float64Histogram
}

// NewStreamInstruments creates the stream bridge instruments on the
// telemetry meter.
func (t *Telemetry) NewStreamInstruments() (*StreamInstruments, error) {
	bytesSent, err := t.meter.Int64Counter(
		"agentscan.stream.bytes_sent",
		metric.WithDescription("Bytes written to stream clients"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bytes_sent counter: %w", err)
	}

	sessionDuration, err := t.meter.Float64Histogram(
		"agentscan.stream.session.duration",
		metric.WithDescription("Stream session length in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 1800, 3600),
	)
	if err != nil {
		return nil, fmt.Errorf("create session.duration histogram: %w", err)
	}

	return &StreamInstruments{
		bytesSent:       bytesSent,
		sessionDuration: sessionDuration,
	}, nil
}

// AddBytes records bytes written to a stream client.
func (s *StreamInstruments) AddBytes(ctx context.Context, transport, channel string, n int64) {
	if s == nil || n <= 0 {
		return
	}
	s.bytesSent.Add(ctx, n, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("channel", channel),
	))
}

// RecordSession records the length of a finished stream session.
func (s *StreamInstruments) RecordSession(ctx context.Context, transport, channel string, d time.Duration) {
	if s == nil {
		return
	}
	s.sessionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("channel", channel),
	))
}

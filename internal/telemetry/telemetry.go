// Package telemetry wires OpenTelemetry tracing for the explorer.
// Metrics are served separately through pkg/metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "agentscan"

// Config holds telemetry configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Version string `yaml:"version"`

	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig holds trace export configuration.
type TracingConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Endpoint     string            `yaml:"endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	SampleRate   float64           `yaml:"sampleRate"`
	MaxBatchSize int               `yaml:"maxBatchSize"`
	BatchTimeout int               `yaml:"batchTimeout"` // seconds
}

// MetricsConfig controls the meter provider. Instruments surface on the
// shared Prometheus registry next to the pkg/metrics families.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Telemetry manages the tracer and meter providers and the propagator.
type Telemetry struct {
	config     Config
	tracer     trace.Tracer
	meter      metric.Meter
	propagator propagation.TextMapPropagator
	shutdown   []func(context.Context) error
}

// New creates a telemetry instance. Meter instruments are bridged onto
// registerer; nil means the Prometheus default. Disabled sections fall
// back to no-op providers so call sites need no nil checks.
func New(config Config, registerer prometheus.Registerer) (*Telemetry, error) {
	if config.Service == "" {
		config.Service = instrumentationName
	}
	t := &Telemetry{
		config:     config,
		tracer:     otel.GetTracerProvider().Tracer(instrumentationName),
		meter:      otel.GetMeterProvider().Meter(instrumentationName),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
	if !config.Enabled {
		return t, nil
	}

	res, err := newResource(config)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	if config.Tracing.Enabled {
		if err := t.initTracing(res); err != nil {
			return nil, fmt.Errorf("initialize tracing: %w", err)
		}
	}
	if config.Metrics.Enabled {
		if err := t.initMetrics(res, registerer); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}
	otel.SetTextMapPropagator(t.propagator)

	return t, nil
}

func newResource(config Config) (*resource.Resource, error) {
	return resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.Service),
			semconv.ServiceVersion(config.Version),
		),
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithTelemetrySDK(),
	)
}

func (t *Telemetry) initTracing(res *resource.Resource) error {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithTimeout(30 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Second,
			MaxElapsedTime:  time.Minute,
		}),
	}
	if t.config.Tracing.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(t.config.Tracing.Endpoint))
	}
	if t.config.Tracing.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(t.config.Tracing.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(t.config.Tracing.Headers))
	}

	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	batchOpts := []sdktrace.BatchSpanProcessorOption{}
	if t.config.Tracing.MaxBatchSize > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(t.config.Tracing.MaxBatchSize))
	}
	if t.config.Tracing.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(time.Duration(t.config.Tracing.BatchTimeout)*time.Second))
	}

	var sampler sdktrace.Sampler
	if t.config.Tracing.SampleRate > 0 && t.config.Tracing.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(t.config.Tracing.SampleRate)
	} else {
		sampler = sdktrace.AlwaysSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	t.tracer = tp.Tracer(instrumentationName)
	t.shutdown = append(t.shutdown, tp.Shutdown)

	return nil
}

func (t *Telemetry) initMetrics(res *resource.Resource, registerer prometheus.Registerer) error {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
	if err != nil {
		return fmt.Errorf("create metrics exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	t.meter = mp.Meter(instrumentationName)
	t.shutdown = append(t.shutdown, mp.Shutdown)

	return nil
}

// Tracer returns the tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// Propagator returns the propagator.
func (t *Telemetry) Propagator() propagation.TextMapPropagator {
	return t.propagator
}

// Shutdown flushes and stops the trace provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartSpan starts a span on the telemetry tracer.
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError records err on the span in ctx, if any is recording.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}
}

// SetStatus sets the status on the span in ctx, if any is recording.
func SetStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// AddEvent adds an event to the span in ctx, if any is recording.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// LogEvent logs through slog with trace and span IDs attached when a
// span is recording, so log lines can be joined to traces.
func LogEvent(ctx context.Context, level slog.Level, msg string, args ...any) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		spanCtx := span.SpanContext()
		args = append(args,
			"trace_id", spanCtx.TraceID().String(),
			"span_id", spanCtx.SpanID().String(),
		)
	}
	slog.LogAttrs(ctx, level, msg, slog.Group("telemetry", args...))
}

package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// StartHTTPServerSpan starts a server span for an inbound request,
// continuing any trace context carried in the request headers.
func (t *Telemetry) StartHTTPServerSpan(r *http.Request) (context.Context, trace.Span) {
	ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return t.tracer.Start(ctx,
		fmt.Sprintf("%s %s", r.Method, r.URL.Path),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethod(r.Method),
			semconv.HTTPTarget(r.RequestURI),
			semconv.HTTPRoute(r.URL.Path),
			semconv.NetHostName(r.Host),
			attribute.String("net.peer.addr", r.RemoteAddr),
			semconv.HTTPUserAgent(r.UserAgent()),
		),
	)
}

// StartHTTPClientSpan starts a client span for an outbound registry
// request and injects the trace context into its headers.
func (t *Telemetry) StartHTTPClientSpan(ctx context.Context, req *http.Request) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx,
		fmt.Sprintf("HTTP %s %s", req.Method, req.URL.Host),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethod(req.Method),
			semconv.HTTPTarget(req.URL.RequestURI()),
			semconv.HTTPScheme(req.URL.Scheme),
			semconv.NetPeerName(req.URL.Host),
		),
	)
	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	return ctx, span
}

// StartSSESpan starts a span covering a proxied SSE stream.
func (t *Telemetry) StartSSESpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	defaultAttrs := []attribute.KeyValue{
		attribute.String("protocol", "sse"),
		attribute.String("operation", operation),
	}
	return t.tracer.Start(ctx, fmt.Sprintf("SSE %s", operation),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(append(defaultAttrs, attrs...)...),
	)
}

// StartWebSocketSpan starts a span covering a WebSocket session.
func (t *Telemetry) StartWebSocketSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	defaultAttrs := []attribute.KeyValue{
		attribute.String("protocol", "websocket"),
		attribute.String("operation", operation),
	}
	return t.tracer.Start(ctx, fmt.Sprintf("WebSocket %s", operation),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(append(defaultAttrs, attrs...)...),
	)
}

// EndHTTPServerSpan records the response status and ends the span.
func EndHTTPServerSpan(span trace.Span, statusCode int) {
	if !span.IsRecording() {
		span.End()
		return
	}
	span.SetAttributes(semconv.HTTPStatusCode(statusCode))
	if statusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// EndHTTPClientSpan records the outcome of an outbound request and
// ends the span.
func EndHTTPClientSpan(span trace.Span, resp *http.Response, err error) {
	if !span.IsRecording() {
		span.End()
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if resp != nil {
		span.SetAttributes(semconv.HTTPStatusCode(resp.StatusCode))
		if resp.StatusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	span.End()
}

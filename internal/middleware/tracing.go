package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"agentscan/internal/telemetry"
)

// Tracing starts a server span per request, continuing trace context
// from inbound headers, and records the response status on the span.
func Tracing(t *telemetry.Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := t.StartHTTPServerSpan(r)
			if id := RequestIDFromContext(ctx); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}

			rw := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r.WithContext(ctx))
			telemetry.EndHTTPServerSpan(span, rw.Status())
		})
	}
}

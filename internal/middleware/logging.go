package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Logging writes one structured line per request at Info level.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}

			next.ServeHTTP(rw, r)

			logger.Info("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.Status(),
				"bytes", rw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFromContext(r.Context()),
				"remote", ClientIP(r),
			)
		})
	}
}

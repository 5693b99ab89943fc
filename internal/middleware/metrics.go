package middleware

import (
	"net/http"
	"strconv"
	"time"

	"agentscan/pkg/metrics"
)

// Metrics records request counts, latencies, sizes, and in-flight
// gauges for every request passing through.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := metrics.NormalizePath(r.URL.Path)
			method := r.Method

			m.ActiveRequests.WithLabelValues(method, path).Inc()
			defer m.ActiveRequests.WithLabelValues(method, path).Dec()

			if r.ContentLength > 0 {
				m.RequestSize.WithLabelValues(method, path).Observe(float64(r.ContentLength))
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.Status())
			m.RequestsTotal.WithLabelValues(method, path, status).Inc()
			m.RequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
			m.ResponseSize.WithLabelValues(method, path).Observe(float64(rw.bytes))
		})
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"agentscan/pkg/metrics"
)

func TestMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry, registry)

	handler := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"not_found"}}`))
	}))

	req := httptest.NewRequest("GET", "/api/agents/11155111/0xabc", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/agents/:chain/:id", "404"))
	if count != 2 {
		t.Errorf("want 2 requests counted under the normalized path, got %f", count)
	}

	active := testutil.ToFloat64(m.ActiveRequests.WithLabelValues("GET", "/api/agents/:chain/:id"))
	if active != 0 {
		t.Errorf("want in-flight gauge back to 0, got %f", active)
	}

	if got := testutil.CollectAndCount(m.RequestDuration); got == 0 {
		t.Error("request duration should have observations")
	}
	if got := testutil.CollectAndCount(m.ResponseSize); got == 0 {
		t.Error("response size should have observations")
	}
}

func TestMetricsMiddlewareActiveDuringRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry, registry)

	var during float64
	handler := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(m.ActiveRequests.WithLabelValues("GET", "/api/leaderboard"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/leaderboard", nil))

	if during != 1 {
		t.Errorf("want in-flight gauge 1 during the request, got %f", during)
	}
}

func TestMetricsMiddlewareDefaultStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry, registry)

	handler := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit 200"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/leaderboard", nil))

	count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/leaderboard", "200"))
	if count != 1 {
		t.Errorf("want implicit 200 counted, got %f", count)
	}
}

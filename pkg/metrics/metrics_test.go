package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry, registry)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RegistryRequestsTotal == nil {
		t.Error("RegistryRequestsTotal is nil")
	}
	if m.StreamConnections == nil {
		t.Error("StreamConnections is nil")
	}
	if m.RateLimitRejected == nil {
		t.Error("RateLimitRejected is nil")
	}
	if m.HealthCheckStatus == nil {
		t.Error("HealthCheckStatus is nil")
	}
}

func TestMetricsCollection(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry, registry)

	m.RequestsTotal.WithLabelValues("GET", "/api/agents", "200").Inc()
	m.RequestsTotal.WithLabelValues("GET", "/api/agents", "200").Inc()
	m.RequestsTotal.WithLabelValues("GET", "/api/leaderboard", "503").Inc()

	count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/agents", "200"))
	if count != 2 {
		t.Errorf("want 2 agent requests, got %f", count)
	}
	count = testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/leaderboard", "503"))
	if count != 1 {
		t.Errorf("want 1 failed leaderboard request, got %f", count)
	}

	m.StreamConnections.WithLabelValues(TransportSSE, "search").Inc()
	active := testutil.ToFloat64(m.StreamConnections.WithLabelValues(TransportSSE, "search"))
	if active != 1 {
		t.Errorf("want 1 active stream, got %f", active)
	}
	m.StreamConnections.WithLabelValues(TransportSSE, "search").Dec()
	active = testutil.ToFloat64(m.StreamConnections.WithLabelValues(TransportSSE, "search"))
	if active != 0 {
		t.Errorf("want 0 active streams, got %f", active)
	}

	m.RegistryRequestsTotal.WithLabelValues("search", "200").Inc()
	upstream := testutil.ToFloat64(m.RegistryRequestsTotal.WithLabelValues("search", "200"))
	if upstream != 1 {
		t.Errorf("want 1 registry request, got %f", upstream)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry, registry)

	m.RequestsTotal.WithLabelValues("GET", "/api/agents", "200").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "agentscan_http_requests_total") {
		t.Error("exposition should include the request counter")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "static path unchanged",
			path: "/api/leaderboard",
			want: "/api/leaderboard",
		},
		{
			name: "chain and address collapsed",
			path: "/api/agents/11155111/0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
			want: "/api/agents/:chain/:id",
		},
		{
			name: "uppercase hex prefix collapsed",
			path: "/api/agents/1/0XABCDEF",
			want: "/api/agents/:chain/:id",
		},
		{
			name: "long static path truncated",
			path: "/api/" + strings.Repeat("x", 80),
			want: ("/api/" + strings.Repeat("x", 80))[:maxPathLabel] + "...",
		},
		{
			name: "mixed segment kept",
			path: "/api/agents/export",
			want: "/api/agents/export",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%s) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

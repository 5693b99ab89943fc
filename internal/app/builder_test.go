package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"agentscan/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns the default configuration pointed at upstreamURL,
// bound to a random local port.
func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	cfg, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5
	cfg.Upstream.URL = upstreamURL
	cfg.Upstream.RequestTimeout = 2
	cfg.Upstream.Retry.MaxAttempts = 0
	return cfg
}

func buildServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewBuilder(cfg, discardLogger()).WithRegistry(prometheus.NewRegistry()).Build()
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	return s
}

// mockRegistry serves the upstream endpoints the built server touches.
func mockRegistry(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/agents/{chain}/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"0xabc","chainId":11155111,"name":"translator","mcp":true}`)
	})
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildRoutes(t *testing.T) {
	registry := mockRegistry(t)
	s := buildServer(t, testConfig(t, registry.URL))
	defer s.Stop(context.Background())

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "live", path: "/live", status: http.StatusOK},
		{name: "ready", path: "/ready", status: http.StatusOK},
		{name: "health", path: "/health", status: http.StatusOK},
		{name: "agent", path: "/api/agents/11155111/0xabc", status: http.StatusOK},
		{name: "unknown path", path: "/nope", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("GET %s status = %d, want %d", tt.path, rec.Code, tt.status)
			}
		})
	}
}

func TestBuildMiddlewareChain(t *testing.T) {
	registry := mockRegistry(t)
	s := buildServer(t, testConfig(t, registry.URL))
	defer s.Stop(context.Background())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("Origin", "https://dapp.example")
	s.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /live status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dapp.example" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://dapp.example")
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("missing X-RateLimit-Limit header")
	}

	scrape := httptest.NewRecorder()
	s.handler.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if scrape.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", scrape.Code, http.StatusOK)
	}
	if !strings.Contains(scrape.Body.String(), "agentscan_http_requests_total") {
		t.Error("metrics exposition missing request counter")
	}
}

func TestBuildRateLimitDisabled(t *testing.T) {
	registry := mockRegistry(t)
	cfg := testConfig(t, registry.URL)
	cfg.RateLimit.Enabled = false
	s := buildServer(t, cfg)
	defer s.Stop(context.Background())

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /live status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("rate limit header present with limiting disabled")
	}
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.RateLimit.Store = "bogus"

	_, err := NewBuilder(cfg, discardLogger()).WithRegistry(prometheus.NewRegistry()).Build()
	if err == nil {
		t.Fatal("expected error for unknown rate limit store")
	}
	if !strings.Contains(err.Error(), "rate limit store") {
		t.Errorf("error = %v, want rate limit store mention", err)
	}
}

package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"agentscan/internal/agent"
	"agentscan/internal/backend"
	"agentscan/internal/telemetry"
	"agentscan/pkg/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProxy wires a proxy against the registry at upstreamURL with
// isolated metrics and disabled telemetry.
func newTestProxy(t *testing.T, upstreamURL string, cfg Config) *Proxy {
	t.Helper()

	client := backend.New(backend.Config{BaseURL: upstreamURL}, discardLogger())
	t.Cleanup(client.Close)

	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry, registry)

	tel, err := telemetry.New(telemetry.Config{}, registry)
	if err != nil {
		t.Fatalf("telemetry.New: %v", err)
	}

	return New(cfg, client, discardLogger(), m, tel)
}

// serveProxy mounts the proxy routes on a fresh mux.
func serveProxy(t *testing.T, p *Proxy) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	p.Register(mux)
	return mux
}

// decodeError reads the API error envelope.
func decodeError(t *testing.T, body io.Reader) (string, string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Type, envelope.Error.Message
}

func TestGetAgent(t *testing.T) {
	registryMux := http.NewServeMux()
	registryMux.HandleFunc("GET /v1/agents/{chain}/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("chain") != "11155111" || r.PathValue("id") != "0xabc" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"not_found","message":"Agent not found"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"0xabc","chainId":11155111,"name":"translator","mcp":true,"verified":true,"reputation":4.5,"feedbackCount":17}`)
	})
	registry := httptest.NewServer(registryMux)
	defer registry.Close()

	mux := serveProxy(t, newTestProxy(t, registry.URL, Config{}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/11155111/0xabc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var got agent.Agent
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode agent: %v", err)
	}
	if got.ID != "0xabc" || got.ChainID != 11155111 || !got.MCP {
		t.Errorf("agent = %+v", got)
	}
}

func TestGetAgentErrors(t *testing.T) {
	registryMux := http.NewServeMux()
	registryMux.HandleFunc("/v1/agents/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"not_found","message":"Agent not found"}}`)
	})
	registry := httptest.NewServer(registryMux)
	defer registry.Close()

	mux := serveProxy(t, newTestProxy(t, registry.URL, Config{}))

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantType string
	}{
		{"unknown agent", "/api/agents/11155111/0xmissing", http.StatusNotFound, "not_found"},
		{"non-numeric chain", "/api/agents/sepolia/0xabc", http.StatusBadRequest, "bad_request"},
		{"zero chain", "/api/agents/0/0xabc", http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			gotType, _ := decodeError(t, rec.Body)
			if gotType != tt.wantType {
				t.Errorf("error type = %q, want %q", gotType, tt.wantType)
			}
		})
	}
}

func TestSearchPassthrough(t *testing.T) {
	var gotQuery url.Values
	registryMux := http.NewServeMux()
	registryMux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"agents":[{"id":"0xabc","chainId":11155111,"name":"translator"}],"offset":0,"total":1}`)
	})
	registry := httptest.NewServer(registryMux)
	defer registry.Close()

	mux := serveProxy(t, newTestProxy(t, registry.URL, Config{}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/agents?q=translator&chains=11155111&mcp=true&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var page agent.SearchPage
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || len(page.Agents) != 1 || page.Agents[0].ID != "0xabc" {
		t.Errorf("page = %+v", page)
	}

	want := map[string]string{
		"q":      "translator",
		"chains": "11155111",
		"mcp":    "true",
		"limit":  "5",
	}
	for param, value := range want {
		if got := gotQuery.Get(param); got != value {
			t.Errorf("upstream %s = %q, want %q", param, got, value)
		}
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	called := false
	registryMux := http.NewServeMux()
	registryMux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	registry := httptest.NewServer(registryMux)
	defer registry.Close()

	mux := serveProxy(t, newTestProxy(t, registry.URL, Config{}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if gotType, _ := decodeError(t, rec.Body); gotType != "bad_request" {
		t.Errorf("error type = %q, want bad_request", gotType)
	}
	if called {
		t.Error("registry was called for an invalid search")
	}
}

func TestLeaderboard(t *testing.T) {
	var gotQuery url.Values
	registryMux := http.NewServeMux()
	registryMux.HandleFunc("/v1/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"entries":[{"rank":1,"agent":{"id":"0xabc","chainId":11155111,"name":"translator"},"score":98.4}]}`)
	})
	registry := httptest.NewServer(registryMux)
	defer registry.Close()

	mux := serveProxy(t, newTestProxy(t, registry.URL, Config{}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/leaderboard?chain=11155111&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Entries []agent.LeaderboardEntry `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Rank != 1 || body.Entries[0].Agent.ID != "0xabc" {
		t.Errorf("entries = %+v", body.Entries)
	}

	if got := gotQuery.Get("chain"); got != "11155111" {
		t.Errorf("upstream chain = %q, want 11155111", got)
	}
	if got := gotQuery.Get("limit"); got != "5" {
		t.Errorf("upstream limit = %q, want 5", got)
	}
}

func TestLeaderboardValidation(t *testing.T) {
	registry := httptest.NewServer(http.NewServeMux())
	defer registry.Close()

	mux := serveProxy(t, newTestProxy(t, registry.URL, Config{}))

	tests := []struct {
		name string
		path string
	}{
		{"non-numeric chain", "/api/leaderboard?chain=sepolia"},
		{"negative chain", "/api/leaderboard?chain=-5"},
		{"non-numeric limit", "/api/leaderboard?limit=many"},
		{"zero limit", "/api/leaderboard?limit=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if gotType, _ := decodeError(t, rec.Body); gotType != "bad_request" {
				t.Errorf("error type = %q, want bad_request", gotType)
			}
		})
	}
}

func TestLeaderboardEmptyEntries(t *testing.T) {
	registryMux := http.NewServeMux()
	registryMux.HandleFunc("/v1/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"entries":null}`)
	})
	registry := httptest.NewServer(registryMux)
	defer registry.Close()

	mux := serveProxy(t, newTestProxy(t, registry.URL, Config{}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if string(body["entries"]) != "[]" {
		t.Errorf("entries = %s, want []", body["entries"])
	}
}

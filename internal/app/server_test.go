package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestServerStartStop(t *testing.T) {
	registry := mockRegistry(t)
	s := buildServer(t, testConfig(t, registry.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	addr := s.Addr()
	if addr == "" {
		t.Fatal("no listener address after start")
	}

	resp, err := http.Get("http://" + addr + "/live")
	if err != nil {
		t.Fatalf("GET /live: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /live status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if conn, err := net.Dial("tcp", addr); err == nil {
		conn.Close()
		t.Error("listener still accepting after stop")
	}
}

func TestServerStartTwice(t *testing.T) {
	registry := mockRegistry(t)
	s := buildServer(t, testConfig(t, registry.URL))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Start(context.Background()); err == nil {
		t.Error("second start succeeded, want error")
	}
}

func TestServerStopWithoutStart(t *testing.T) {
	registry := mockRegistry(t)
	s := buildServer(t, testConfig(t, registry.URL))

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop without start: %v", err)
	}
}

func TestServerBindFailure(t *testing.T) {
	// Occupy a port, then configure the server to bind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	registry := mockRegistry(t)
	cfg := testConfig(t, registry.URL)
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	s := buildServer(t, cfg)
	defer s.Stop(context.Background())

	if err := s.Start(context.Background()); err == nil {
		t.Error("start succeeded on occupied port, want bind error")
	}
}

// TestServerStreamsThroughChain proves the SSE relay still flushes once
// the full middleware chain wraps the response writer.
func TestServerStreamsThroughChain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/search/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "event: search.result\ndata: {\"agents\":[]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
		w.(http.Flusher).Flush()
	})
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	s := buildServer(t, testConfig(t, upstream.URL))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/api/search/stream?q=translate")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(body), "search.result") {
		t.Errorf("stream body missing relayed event: %q", body)
	}
	if !strings.Contains(string(body), "[DONE]") {
		t.Errorf("stream body missing end sentinel: %q", body)
	}
}

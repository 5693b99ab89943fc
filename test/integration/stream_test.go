package integration

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"agentscan/internal/agent"
	"agentscan/internal/query"
	"agentscan/internal/stream"
)

// TestSearchStreamWire tests the raw SSE surface of the streamed search
func TestSearchStreamWire(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	skipIfStackNotRunning(t)

	req, err := http.NewRequest("GET", explorerURL+"/api/search/stream?q=integration", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect to explorer: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("Expected text/event-stream content type, got %s", ct)
	}

	var (
		results   int
		completed bool
		sentinel  bool
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	deadline := time.After(20 * time.Second)
	lines := make(chan string, 64)
	errChan := make(chan error, 1)

	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			errChan <- err
		}
		close(lines)
	}()

scan:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break scan
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch {
			case payload == "[DONE]":
				sentinel = true
				break scan
			case strings.Contains(payload, `"type":"result"`):
				results++
			case strings.Contains(payload, `"type":"complete"`):
				completed = true
			}

		case err := <-errChan:
			t.Fatalf("Error reading stream: %v", err)

		case <-deadline:
			t.Fatalf("Timeout reading stream (results=%d)", results)
		}
	}

	if results == 0 {
		t.Error("Expected at least one result frame")
	}
	if !completed {
		t.Error("Expected a complete frame")
	}
	if !sentinel {
		t.Error("Expected the end-of-stream sentinel")
	}
}

// TestSearchStreamClient tests a full streamed search through the
// high-level client, explorer, and mock registry together
func TestSearchStreamClient(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	skipIfStackNotRunning(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		total   int
		gotMeta bool
	)
	done := make(chan struct{})
	var once sync.Once

	s := stream.NewSearchStream(ctx, explorerURL, "integration", query.Filters{}, nil, stream.SearchCallbacks{
		OnResult: func(page agent.SearchPage) {
			mu.Lock()
			total += len(page.Agents)
			mu.Unlock()
		},
		OnMetadata: func(meta agent.SearchMetadata) {
			mu.Lock()
			gotMeta = true
			mu.Unlock()
		},
		OnError: func(streamErr stream.StreamError) {
			t.Errorf("Stream error: %v", streamErr)
			once.Do(func() { close(done) })
		},
		OnComplete: func() {
			once.Do(func() { close(done) })
		},
	})
	defer s.Close()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Timeout waiting for the search to complete")
	}

	mu.Lock()
	defer mu.Unlock()
	if total == 0 {
		t.Error("Expected at least one streamed agent")
	}
	if !gotMeta {
		t.Error("Expected a metadata frame")
	}
}

// TestEventStreamClient tests the realtime feed through the relay
func TestEventStreamClient(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	skipIfStackNotRunning(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const want = 2
	events := make(chan agent.RealtimeEvent, want)

	es := stream.NewEventStream(ctx, explorerURL, []string{agent.EventAgentRegistered}, nil, stream.EventCallbacks{
		OnEvent: func(evt agent.RealtimeEvent) {
			select {
			case events <- evt:
			default:
			}
		},
		OnError: func(err error) {
			t.Errorf("Stream error: %v", err)
		},
	})
	defer es.Close()

	for i := 0; i < want; i++ {
		select {
		case evt := <-events:
			if evt.Type != agent.EventAgentRegistered {
				t.Errorf("Expected type %s, got %s", agent.EventAgentRegistered, evt.Type)
			}
			if len(evt.Payload) == 0 {
				t.Error("Expected a non-empty payload")
			}
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for events (got %d/%d)", i, want)
		}
	}
}

// TestStreamKeepalive tests that the relay emits keepalive comments
func TestStreamKeepalive(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	skipIfStackNotRunning(t)

	req, err := http.NewRequest("GET", explorerURL+"/api/events", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer resp.Body.Close()

	// Default keepalive interval is 15s; allow two periods
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()

	scanner := bufio.NewScanner(resp.Body)
	done := make(chan bool, 1)
	go func() {
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), ":") {
				done <- true
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Error("Timeout waiting for keepalive")
	}
}

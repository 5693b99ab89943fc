package stream

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"

	"agentscan/internal/agent"
	"agentscan/internal/query"
)

func boolPtr(b bool) *bool { return &b }

func TestSearchStreamURL(t *testing.T) {
	dialer := &fakeDialer{}

	s := NewSearchStream(context.Background(), "http://explorer.test", "AI assistant",
		query.Filters{
			Chains: []int64{11155111},
			MCP:    boolPtr(true),
		},
		testConfig(dialer), SearchCallbacks{})
	defer s.Close()

	waitFor(t, "the dial", func() bool { return dialer.dials() == 1 })

	u, err := url.Parse(dialer.dialedURL(0))
	if err != nil {
		t.Fatalf("dialed URL does not parse: %v", err)
	}
	if u.Path != "/api/search/stream" {
		t.Errorf("path = %q, want /api/search/stream", u.Path)
	}

	params := u.Query()
	if got := params.Get("q"); got != "AI assistant" {
		t.Errorf("q = %q, want %q", got, "AI assistant")
	}
	if got := params.Get("chains"); got != "11155111" {
		t.Errorf("chains = %q, want %q", got, "11155111")
	}
	if got := params.Get("mcp"); got != "true" {
		t.Errorf("mcp = %q, want %q", got, "true")
	}
	if params.Has("filters") {
		t.Errorf("query %q carries a filters blob; filters must be flattened", u.RawQuery)
	}
}

func TestSearchStreamDispatch(t *testing.T) {
	tests := []struct {
		name        string
		frame       string
		wantResults int
		wantMetas   int
		wantErrs    int
		wantErr     StreamError
	}{
		{
			name:        "result envelope",
			frame:       `{"type":"result","data":{"agents":[{"id":"1","chainId":11155111,"name":"helper","mcp":true}],"offset":0,"total":2}}`,
			wantResults: 1,
		},
		{
			name:      "metadata envelope",
			frame:     `{"type":"metadata","metadata":{"total":5,"took_ms":12,"chains":[11155111],"cached":true}}`,
			wantMetas: 1,
		},
		{
			name:     "error envelope",
			frame:    `{"type":"error","data":{"code":"UPSTREAM_DOWN","error":"Registry unavailable"}}`,
			wantErrs: 1,
			wantErr:  StreamError{Code: "UPSTREAM_DOWN", Message: "Registry unavailable"},
		},
		{
			name:     "error envelope with empty fields",
			frame:    `{"type":"error","data":{}}`,
			wantErrs: 1,
			wantErr:  StreamError{Code: "SEARCH_ERROR", Message: "Unknown search error"},
		},
		{
			name:  "unknown envelope type",
			frame: `{"type":"progress","data":{"done":10}}`,
		},
		{
			name:  "result without data",
			frame: `{"type":"result"}`,
		},
		{
			name:  "metadata payload in the wrong field",
			frame: `{"type":"metadata","data":{"total":5}}`,
		},
		{
			name:  "error without data",
			frame: `{"type":"error"}`,
		},
		{
			name:  "envelope that is not an object",
			frame: `[1,2,3]`,
		},
		{
			name:  "result with undecodable data",
			frame: `{"type":"result","data":{"agents":"nope"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{provision: func(n int) *fakeSource {
				return newFakeSource(nil, false,
					msgEvent("message", tt.frame),
					msgEvent("message", `{"type":"complete"}`),
				)
			}}

			var mu sync.Mutex
			var results, metas int
			var errs []StreamError
			completes := 0

			s := NewSearchStream(context.Background(), "http://explorer.test", "agents",
				query.Filters{}, testConfig(dialer), SearchCallbacks{
					OnResult: func(page agent.SearchPage) {
						mu.Lock()
						results++
						mu.Unlock()
					},
					OnMetadata: func(meta agent.SearchMetadata) {
						mu.Lock()
						metas++
						mu.Unlock()
					},
					OnError: func(streamErr StreamError) {
						mu.Lock()
						errs = append(errs, streamErr)
						mu.Unlock()
					},
					OnComplete: func() {
						mu.Lock()
						completes++
						mu.Unlock()
					},
				})
			defer s.Close()

			waitFor(t, "completion", func() bool {
				mu.Lock()
				defer mu.Unlock()
				return completes == 1
			})
			settle()

			mu.Lock()
			defer mu.Unlock()
			if results != tt.wantResults {
				t.Errorf("OnResult fired %d times, want %d", results, tt.wantResults)
			}
			if metas != tt.wantMetas {
				t.Errorf("OnMetadata fired %d times, want %d", metas, tt.wantMetas)
			}
			if len(errs) != tt.wantErrs {
				t.Fatalf("OnError fired %d times, want %d", len(errs), tt.wantErrs)
			}
			if tt.wantErrs == 1 && errs[0] != tt.wantErr {
				t.Errorf("error = %+v, want %+v", errs[0], tt.wantErr)
			}
		})
	}
}

func TestSearchStreamResultPayload(t *testing.T) {
	dialer := &fakeDialer{provision: func(n int) *fakeSource {
		return newFakeSource(nil, false,
			msgEvent("message", `{"type":"result","data":{"agents":[{"id":"0x1","chainId":11155111,"name":"indexer","mcp":true,"a2a":false,"reputation":4.5}],"offset":20,"total":41}}`),
		)
	}}

	var mu sync.Mutex
	var pages []agent.SearchPage

	s := NewSearchStream(context.Background(), "http://explorer.test", "indexer",
		query.Filters{}, testConfig(dialer), SearchCallbacks{
			OnResult: func(page agent.SearchPage) {
				mu.Lock()
				pages = append(pages, page)
				mu.Unlock()
			},
		})
	defer s.Close()

	waitFor(t, "the result page", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pages) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	page := pages[0]
	if page.Offset != 20 || page.Total != 41 {
		t.Errorf("page offset/total = %d/%d, want 20/41", page.Offset, page.Total)
	}
	if len(page.Agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(page.Agents))
	}
	got := page.Agents[0]
	if got.ID != "0x1" || got.ChainID != 11155111 || got.Name != "indexer" || !got.MCP || got.Reputation != 4.5 {
		t.Errorf("agent = %+v, want the decoded wire fields", got)
	}
}

func TestSearchStreamCompleteClosesStream(t *testing.T) {
	// A trailing frame after the complete envelope must not fire callbacks.
	dialer := &fakeDialer{provision: func(n int) *fakeSource {
		return newFakeSource(nil, false,
			msgEvent("message", `{"type":"result","data":{"agents":[],"offset":0}}`),
			msgEvent("message", `{"type":"complete"}`),
			msgEvent("message", `{"type":"result","data":{"agents":[],"offset":1}}`),
		)
	}}

	var mu sync.Mutex
	results, completes := 0, 0

	s := NewSearchStream(context.Background(), "http://explorer.test", "agents",
		query.Filters{}, testConfig(dialer), SearchCallbacks{
			OnResult: func(page agent.SearchPage) {
				mu.Lock()
				results++
				mu.Unlock()
			},
			OnComplete: func() {
				mu.Lock()
				completes++
				mu.Unlock()
			},
		})

	waitFor(t, "completion", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completes == 1
	})
	settle()

	mu.Lock()
	defer mu.Unlock()
	if results != 1 {
		t.Errorf("OnResult fired %d times, want 1 (frames after complete are dead)", results)
	}
	if completes != 1 {
		t.Errorf("OnComplete fired %d times, want exactly 1", completes)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want %v", s.State(), StateClosed)
	}
	if dialer.closedSources() != 1 {
		t.Errorf("closed sources = %d, want 1", dialer.closedSources())
	}
}

func TestSearchStreamTransportErrorSurfaces(t *testing.T) {
	dialer := &fakeDialer{provision: func(n int) *fakeSource {
		return newFakeSource(errTransport, false)
	}}

	var mu sync.Mutex
	var errs []StreamError
	completes := 0

	cfg := testConfig(dialer)
	cfg.MaxRetries = 1

	s := NewSearchStream(context.Background(), "http://explorer.test", "agents",
		query.Filters{}, cfg, SearchCallbacks{
			OnError: func(streamErr StreamError) {
				mu.Lock()
				errs = append(errs, streamErr)
				mu.Unlock()
			},
			OnComplete: func() {
				mu.Lock()
				completes++
				mu.Unlock()
			},
		})

	waitFor(t, "terminal failure", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completes == 1
	})
	settle()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("OnError fired %d times, want 1", len(errs))
	}
	if errs[0].Code != "SSE_ERROR" {
		t.Errorf("code = %q, want SSE_ERROR", errs[0].Code)
	}
	if !strings.Contains(errs[0].Message, "after 1 retries") {
		t.Errorf("message = %q, want the retry count", errs[0].Message)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want %v", s.State(), StateClosed)
	}
}

func TestSearchStreamParseErrorForwarded(t *testing.T) {
	dialer := &fakeDialer{provision: func(n int) *fakeSource {
		return newFakeSource(nil, false,
			msgEvent("message", `{broken`),
			msgEvent("message", `{"type":"result","data":{"agents":[],"offset":0}}`),
		)
	}}

	var mu sync.Mutex
	results := 0
	var errs []StreamError

	s := NewSearchStream(context.Background(), "http://explorer.test", "agents",
		query.Filters{}, testConfig(dialer), SearchCallbacks{
			OnResult: func(page agent.SearchPage) {
				mu.Lock()
				results++
				mu.Unlock()
			},
			OnError: func(streamErr StreamError) {
				mu.Lock()
				errs = append(errs, streamErr)
				mu.Unlock()
			},
		})
	defer s.Close()

	waitFor(t, "the result after the bad frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return results == 1
	})
	settle()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("OnError fired %d times, want 1", len(errs))
	}
	if errs[0].Code != "SSE_ERROR" || !strings.Contains(errs[0].Message, "Failed to parse SSE message") {
		t.Errorf("error = %+v, want an SSE_ERROR parse failure", errs[0])
	}
	if s.State() != StateOpen {
		t.Errorf("State() = %v, want %v (bad frames must not end the search)", s.State(), StateOpen)
	}
}

func TestSearchStreamSentinel(t *testing.T) {
	dialer := &fakeDialer{provision: func(n int) *fakeSource {
		return newFakeSource(nil, false,
			msgEvent("message", `{"type":"result","data":{"agents":[],"offset":0}}`),
			msgEvent("message", "[DONE]"),
		)
	}}

	var mu sync.Mutex
	results, completes, errCount := 0, 0, 0

	s := NewSearchStream(context.Background(), "http://explorer.test", "agents",
		query.Filters{}, testConfig(dialer), SearchCallbacks{
			OnResult: func(page agent.SearchPage) {
				mu.Lock()
				results++
				mu.Unlock()
			},
			OnError: func(streamErr StreamError) {
				mu.Lock()
				errCount++
				mu.Unlock()
			},
			OnComplete: func() {
				mu.Lock()
				completes++
				mu.Unlock()
			},
		})

	waitFor(t, "completion", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completes == 1
	})
	settle()

	mu.Lock()
	defer mu.Unlock()
	if results != 1 || completes != 1 || errCount != 0 {
		t.Errorf("results/completes/errors = %d/%d/%d, want 1/1/0", results, completes, errCount)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want %v", s.State(), StateClosed)
	}
}

func TestStreamErrorMessage(t *testing.T) {
	err := StreamError{Code: "UPSTREAM_DOWN", Message: "Registry unavailable"}
	if got := err.Error(); got != "UPSTREAM_DOWN: Registry unavailable" {
		t.Errorf("Error() = %q, want %q", got, "UPSTREAM_DOWN: Registry unavailable")
	}
}

// Command registry is a mock agent registry for local development and
// integration testing. It serves the upstream surface the explorer
// proxies: streamed search results, the realtime event feed, and the
// canned REST lookups. Flags shape the stream so failure modes
// (malformed frames, mid-stream drops) can be rehearsed on demand.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"agentscan/internal/agent"
	"agentscan/internal/query"
	"agentscan/internal/sse"
)

var (
	addr          = flag.String("addr", ":8881", "listen address")
	batches       = flag.Int("batches", 3, "result batches per streamed search")
	batchSize     = flag.Int("batch-size", 2, "agents per result batch")
	batchDelay    = flag.Duration("batch-delay", 200*time.Millisecond, "pause between result batches")
	eventInterval = flag.Duration("event-interval", 2*time.Second, "realtime event period")
	malformed     = flag.Bool("malformed", false, "inject one malformed frame into each search stream")
	abortAfter    = flag.Int("abort-after", 0, "drop search streams after this many batches, 0 streams to completion")
)

const defaultChain = int64(11155111)

var agentNames = []string{
	"translator", "summarizer", "auditor", "indexer", "notarizer",
	"router", "curator", "validator",
}

var skillSets = [][]string{
	{"translation", "ocr"},
	{"summarization"},
	{"code-review", "solidity"},
	{"search", "embeddings"},
	{"attestation"},
}

// agentAt returns a deterministic canned agent. The same index always
// yields the same entry, so tests can assert on exact payloads.
func agentAt(chainID int64, i int, q string) agent.Agent {
	name := agentNames[i%len(agentNames)]
	if q != "" {
		name = q + "-" + name
	}
	return agent.Agent{
		ID:            fmt.Sprintf("0x%040x", i+1),
		ChainID:       chainID,
		Address:       fmt.Sprintf("0x%040x", 0x1000+i),
		Name:          name,
		Description:   fmt.Sprintf("Mock registry agent %d", i+1),
		Skills:        skillSets[i%len(skillSets)],
		MCP:           i%2 == 0,
		A2A:           i%3 == 0,
		Verified:      i%2 == 1,
		Reputation:    3.5 + float64(i%15)/10,
		FeedbackCount: int64(10 * (i + 1)),
		RegisteredAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
		UpdatedAt:     time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
	}
}

// chainParam picks the chain the response claims to come from.
func chainParam(r *http.Request) int64 {
	raw := r.URL.Query().Get("chains")
	if raw == "" {
		return defaultChain
	}
	for _, part := range query.SplitTypes(raw) {
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			return id
		}
	}
	return defaultChain
}

// envelope is the tagged frame of the search stream.
type envelope struct {
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
	Metadata any    `json:"metadata,omitempty"`
}

func writeEnvelope(w *sse.Writer, env envelope) error {
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return w.WriteEvent(&sse.Event{Data: string(buf)})
}

// searchStreamHandler streams canned result batches, a metadata frame, a
// complete frame, and the end-of-stream sentinel. -malformed injects one
// undecodable frame after the first batch; -abort-after drops the
// connection without completing.
func searchStreamHandler(w http.ResponseWriter, r *http.Request) {
	sse.PrepareResponse(w)
	w.WriteHeader(http.StatusOK)
	writer := sse.NewWriter(w)

	q := r.URL.Query().Get("q")
	chainID := chainParam(r)
	total := *batches * *batchSize
	log.Printf("search stream from %s q=%q batches=%d", r.RemoteAddr, q, *batches)

	start := time.Now()
	done := r.Context().Done()

	for b := 0; b < *batches; b++ {
		if b > 0 {
			select {
			case <-done:
				return
			case <-time.After(*batchDelay):
			}
		}
		if *abortAfter > 0 && b >= *abortAfter {
			log.Printf("aborting search stream from %s after %d batches", r.RemoteAddr, b)
			return
		}

		page := agent.SearchPage{Offset: b * *batchSize, Total: total}
		for i := 0; i < *batchSize; i++ {
			page.Agents = append(page.Agents, agentAt(chainID, b**batchSize+i, q))
		}
		if err := writeEnvelope(writer, envelope{Type: "result", Data: page}); err != nil {
			return
		}

		if *malformed && b == 0 {
			if err := writer.WriteEvent(&sse.Event{Data: `{"type":"result","data":`}); err != nil {
				return
			}
		}
	}

	meta := agent.SearchMetadata{
		Total:  total,
		TookMS: time.Since(start).Milliseconds(),
		Chains: []int64{chainID},
	}
	if err := writeEnvelope(writer, envelope{Type: "metadata", Metadata: meta}); err != nil {
		return
	}
	if err := writeEnvelope(writer, envelope{Type: "complete"}); err != nil {
		return
	}
	writer.WriteEvent(&sse.Event{Data: "[DONE]"})
}

// eventsHandler pushes typed registry events on a ticker, cycling through
// the requested types. Without a types parameter every type is published.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	sse.PrepareResponse(w)
	w.WriteHeader(http.StatusOK)
	writer := sse.NewWriter(w)

	types := query.SplitTypes(r.URL.Query().Get("types"))
	if len(types) == 0 {
		types = []string{
			agent.EventAgentRegistered,
			agent.EventAgentUpdated,
			agent.EventFeedbackSubmitted,
			agent.EventValidationCompleted,
			agent.EventLeaderboardUpdated,
		}
	}
	log.Printf("event stream from %s types=%v", r.RemoteAddr, types)

	ticker := time.NewTicker(*eventInterval)
	defer ticker.Stop()
	done := r.Context().Done()

	for n := 0; ; n++ {
		select {
		case <-done:
			log.Printf("event stream closed from %s", r.RemoteAddr)
			return
		case <-ticker.C:
			typ := types[n%len(types)]
			evt := agent.RealtimeEvent{
				Type:      typ,
				Payload:   eventPayload(typ, n),
				Timestamp: time.Now().UTC(),
				ChainID:   defaultChain,
			}
			buf, err := json.Marshal(evt)
			if err != nil {
				return
			}
			if err := writer.WriteEvent(&sse.Event{ID: strconv.Itoa(n + 1), Type: typ, Data: string(buf)}); err != nil {
				return
			}
			if (n+1)%10 == 0 {
				if err := writer.WriteComment("keepalive"); err != nil {
					return
				}
			}
		}
	}
}

func eventPayload(typ string, n int) json.RawMessage {
	a := agentAt(defaultChain, n, "")
	switch typ {
	case agent.EventFeedbackSubmitted:
		return mustJSON(map[string]any{"agentId": a.ID, "rating": 4, "comment": "mock feedback"})
	case agent.EventValidationCompleted:
		return mustJSON(map[string]any{"agentId": a.ID, "validator": a.Address, "passed": n%4 != 0})
	case agent.EventLeaderboardUpdated:
		return mustJSON(map[string]any{"chainId": defaultChain, "topAgent": a.ID})
	default:
		return mustJSON(a)
	}
}

func mustJSON(v any) json.RawMessage {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return buf
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"type": typ, "message": message},
	})
}

// agentHandler serves a canned agent under any requested ID. The literal
// ID "0x404" is reserved for exercising the not-found path.
func agentHandler(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(r.PathValue("chain"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Invalid chain ID")
		return
	}
	id := r.PathValue("id")
	if id == "0x404" {
		writeError(w, http.StatusNotFound, "not_found", "Agent not found")
		return
	}

	a := agentAt(chainID, 0, "")
	a.ID = id
	writeJSON(w, http.StatusOK, a)
}

func searchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	chainID := chainParam(r)

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}

	page := agent.SearchPage{Offset: offset, Total: offset + limit}
	for i := 0; i < limit; i++ {
		page.Agents = append(page.Agents, agentAt(chainID, offset+i, q))
	}
	writeJSON(w, http.StatusOK, page)
}

func leaderboardHandler(w http.ResponseWriter, r *http.Request) {
	chainID := chainParam(r)
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	entries := make([]agent.LeaderboardEntry, 0, limit)
	for i := 0; i < limit; i++ {
		entries = append(entries, agent.LeaderboardEntry{
			Rank:   i + 1,
			Agent:  agentAt(chainID, i, ""),
			Score:  5.0 - float64(i)*0.2,
			Change: (i % 3) - 1,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func main() {
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/search/stream", searchStreamHandler)
	mux.HandleFunc("GET /v1/events", eventsHandler)
	mux.HandleFunc("GET /v1/agents/{chain}/{id}", agentHandler)
	mux.HandleFunc("GET /v1/search", searchHandler)
	mux.HandleFunc("GET /v1/leaderboard", leaderboardHandler)
	mux.HandleFunc("GET /v1/health", healthHandler)

	server := &http.Server{
		Addr:        *addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No write timeout, streams are open-ended
	}

	fmt.Printf("Mock registry listening on %s\n", *addr)
	fmt.Println("Endpoints:")
	fmt.Printf("  - http://localhost%s/v1/search/stream?q=... (streamed search)\n", *addr)
	fmt.Printf("  - http://localhost%s/v1/events?types=... (realtime events)\n", *addr)
	fmt.Printf("  - http://localhost%s/v1/agents/{chain}/{id}\n", *addr)
	fmt.Printf("  - http://localhost%s/v1/search\n", *addr)
	fmt.Printf("  - http://localhost%s/v1/leaderboard\n", *addr)
	fmt.Printf("  - http://localhost%s/v1/health\n", *addr)

	if err := server.ListenAndServe(); err != nil {
		log.Fatal("Server error:", err)
	}
}

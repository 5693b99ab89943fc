package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"agentscan/internal/agent"
	"agentscan/internal/query"
)

// searchStreamPath is the explorer endpoint serving streamed search results.
const searchStreamPath = "/api/search/stream"

// StreamError is the structured error surface of the search stream.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e StreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SearchCallbacks receives the routed search stream envelopes. All fields
// are optional.
type SearchCallbacks struct {
	// OnResult receives each streamed batch of results.
	OnResult func(page agent.SearchPage)
	// OnMetadata receives search summary frames.
	OnMetadata func(meta agent.SearchMetadata)
	// OnError receives error envelopes and, as code SSE_ERROR, every
	// connection-level failure.
	OnError func(streamErr StreamError)
	// OnComplete fires when the search finishes.
	OnComplete func()
}

// searchEnvelope is the tagged wire frame of the search stream.
type searchEnvelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Metadata json.RawMessage `json:"metadata"`
}

// errorEnvelopeData is the nested payload of an error envelope.
type errorEnvelopeData struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// SearchStream is a handle on one streamed search.
type SearchStream struct {
	c *Client
}

// NewSearchStream starts a streamed search against the explorer at baseURL.
// The search text becomes the q parameter and each filter field a flattened
// scalar parameter. The stream begins immediately and finishes on the
// server's complete frame, the end-of-stream sentinel, Close, or retry
// exhaustion.
func NewSearchStream(ctx context.Context, baseURL, searchQuery string, filters query.Filters,
	cfg *Config, cb SearchCallbacks) *SearchStream {

	values := filters.Values()
	values.Set("q", searchQuery)
	target := query.BuildURL(baseURL, searchStreamPath, values)

	s := &SearchStream{}
	s.c = New(ctx, target, cfg, Callbacks{
		OnMessage: func(msg Message) {
			s.dispatch(msg, cb)
		},
		OnError: func(err error) {
			if cb.OnError != nil {
				cb.OnError(StreamError{Code: "SSE_ERROR", Message: err.Error()})
			}
		},
		OnComplete: cb.OnComplete,
	})
	return s
}

// Close tears the search down. Idempotent.
func (s *SearchStream) Close() {
	s.c.Close()
}

// State returns the connection state of the underlying client.
func (s *SearchStream) State() State {
	return s.c.State()
}

// dispatch routes one envelope by its type tag. Envelopes with an unknown
// tag, a missing payload field, or an undecodable payload are dropped.
func (s *SearchStream) dispatch(msg Message, cb SearchCallbacks) {
	var env searchEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return
	}

	switch env.Type {
	case "result":
		if len(env.Data) == 0 || cb.OnResult == nil {
			return
		}
		var page agent.SearchPage
		if err := json.Unmarshal(env.Data, &page); err != nil {
			return
		}
		cb.OnResult(page)

	case "metadata":
		if len(env.Metadata) == 0 || cb.OnMetadata == nil {
			return
		}
		var meta agent.SearchMetadata
		if err := json.Unmarshal(env.Metadata, &meta); err != nil {
			return
		}
		cb.OnMetadata(meta)

	case "error":
		if len(env.Data) == 0 {
			return
		}
		var data errorEnvelopeData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		if cb.OnError == nil {
			return
		}
		if data.Code == "" {
			data.Code = "SEARCH_ERROR"
		}
		if data.Error == "" {
			data.Error = "Unknown search error"
		}
		cb.OnError(StreamError{Code: data.Code, Message: data.Error})

	case "complete":
		// One-shot search: the stream is done. Closing first keeps any
		// trailing frames from firing callbacks.
		s.c.Close()
		if cb.OnComplete != nil {
			cb.OnComplete()
		}

	default:
		// Unknown envelope type, drop
	}
}

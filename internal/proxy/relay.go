package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"agentscan/internal/query"
	"agentscan/internal/sse"
	"agentscan/internal/telemetry"
	"agentscan/pkg/errors"
	"agentscan/pkg/metrics"
)

// handleSearchStream serves GET /api/search/stream: it validates the search
// parameters, opens the registry's streaming search, and re-serves its
// events until the client disconnects or the upstream finishes.
func (p *Proxy) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	s, err := query.ParseSearch(r.URL.Query())
	if err != nil {
		p.metrics.StreamConnectionsTotal.WithLabelValues(metrics.TransportSSE, channelSearch, "rejected").Inc()
		p.writeError(w, err)
		return
	}

	ctx, span := p.tel.StartSSESpan(r.Context(), channelSearch,
		attribute.String("search.query", s.Query))
	defer span.End()

	p.relay(ctx, w, channelSearch, p.backend.SearchStreamURL(s))
}

// handleEvents serves GET /api/events: the realtime feed re-served over SSE
// with the types selection passed through.
func (p *Proxy) handleEvents(w http.ResponseWriter, r *http.Request) {
	types := query.SplitTypes(r.URL.Query().Get("types"))

	ctx, span := p.tel.StartSSESpan(r.Context(), channelEvents,
		attribute.StringSlice("event.types", types))
	defer span.End()

	p.relay(ctx, w, channelEvents, p.backend.EventsURL(types))
}

// frame is one upstream read: an event, or the error that ended the stream.
type frame struct {
	event *sse.Event
	err   error
}

// relay bridges one upstream SSE stream onto the client response. Events
// are re-encoded 1:1, including the end-of-stream sentinel; keepalive
// comments fill idle gaps so intermediaries keep the connection open.
func (p *Proxy) relay(ctx context.Context, w http.ResponseWriter, channel, target string) {
	resp, err := p.openUpstream(ctx, target)
	if err != nil {
		p.metrics.StreamConnectionsTotal.WithLabelValues(metrics.TransportSSE, channel, "rejected").Inc()
		telemetry.RecordError(ctx, err)
		p.writeError(w, err)
		return
	}
	defer resp.Body.Close()

	p.metrics.StreamConnections.WithLabelValues(metrics.TransportSSE, channel).Inc()
	defer p.metrics.StreamConnections.WithLabelValues(metrics.TransportSSE, channel).Dec()

	started := time.Now()
	status := "completed"
	defer func() {
		p.metrics.StreamConnectionsTotal.WithLabelValues(metrics.TransportSSE, channel, status).Inc()
		p.bridges.RecordSession(ctx, metrics.TransportSSE, channel, time.Since(started))
	}()

	sse.PrepareResponse(w)
	w.WriteHeader(http.StatusOK)

	counted := &countingWriter{ResponseWriter: w}
	writer := sse.NewWriter(counted)
	if err := writer.Flush(); err != nil {
		status = "error"
		return
	}

	frames := make(chan frame)
	go readFrames(ctx, sse.NewReader(resp.Body), frames)

	keepalive := time.NewTicker(p.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	events := 0
	for {
		select {
		case <-ctx.Done():
			status = "client_closed"
			p.logger.Debug("Stream client disconnected", "channel", channel, "events", events)
			return

		case <-keepalive.C:
			if err := writer.WriteComment("keepalive"); err != nil {
				status = "error"
				p.logger.Debug("Stream keepalive failed", "channel", channel, "error", err)
				return
			}
			p.bridges.AddBytes(ctx, metrics.TransportSSE, channel, counted.take())

		case f := <-frames:
			if f.err != nil {
				if f.err == io.EOF {
					p.logger.Debug("Upstream stream ended", "channel", channel, "events", events)
					return
				}
				status = "error"
				telemetry.RecordError(ctx, f.err)
				p.logger.Warn("Upstream stream failed", "channel", channel, "error", f.err)
				return
			}
			if err := writer.WriteEvent(f.event); err != nil {
				status = "error"
				p.logger.Debug("Stream write failed", "channel", channel, "error", err)
				return
			}
			events++
			p.metrics.StreamEventsSent.WithLabelValues(metrics.TransportSSE, channel).Inc()
			p.bridges.AddBytes(ctx, metrics.TransportSSE, channel, counted.take())
		}
	}
}

// readFrames pumps upstream events into out until the stream ends. The
// terminating error is delivered as the final frame; the channel stays open
// so a zero frame can never be read.
func readFrames(ctx context.Context, r *sse.Reader, out chan<- frame) {
	for {
		event, err := r.ReadEvent()
		select {
		case out <- frame{event: event, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// openUpstream performs the SSE handshake against the registry.
func (p *Proxy) openUpstream(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "Failed to build stream request").WithCause(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for key, values := range p.backend.StreamHeader() {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	_, span := p.tel.StartHTTPClientSpan(ctx, req)
	resp, err := p.stream.Do(req)
	telemetry.EndHTTPClientSpan(span, resp, err)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeUnavailable, "Failed to connect to registry stream").WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		err := upstreamStatusError(resp)
		resp.Body.Close()
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, errors.NewError(errors.ErrorTypeParse,
			fmt.Sprintf("Registry stream returned content type %s", ct))
	}
	return resp, nil
}

// upstreamStatusError maps a failed stream handshake to a typed error,
// preferring the registry's own message when the body carries one.
func upstreamStatusError(resp *http.Response) error {
	message := fmt.Sprintf("Registry stream returned status %d", resp.StatusCode)

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	return errors.NewError(errors.TypeFromStatusCode(resp.StatusCode), message).
		WithDetail("status", resp.StatusCode)
}

// countingWriter tracks bytes written to the client for the stream volume
// instruments.
type countingWriter struct {
	http.ResponseWriter
	n int64
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	n, err := cw.ResponseWriter.Write(b)
	cw.n += int64(n)
	return n, err
}

// Flush forwards to the underlying writer so the SSE writer sees a flusher.
func (cw *countingWriter) Flush() {
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// take returns the bytes written since the last call.
func (cw *countingWriter) take() int64 {
	n := cw.n
	cw.n = 0
	return n
}

package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"agentscan/internal/agent"
	"agentscan/internal/query"
	"agentscan/internal/stream"
	"agentscan/pkg/errors"
	"agentscan/pkg/metrics"
)

const (
	// wsWriteTimeout bounds every frame write to the client.
	wsWriteTimeout = 10 * time.Second
	// wsMaxMessageSize caps inbound frames; clients only send control
	// frames, so anything larger ends the session.
	wsMaxMessageSize = 512
)

// handleEventsWS serves GET /api/events/ws: the realtime feed bridged onto
// a WebSocket. The upstream subscription reconnects server-side, which the
// socket itself cannot do.
func (p *Proxy) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	types := query.SplitTypes(r.URL.Query().Get("types"))

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the failure response
		p.metrics.StreamConnectionsTotal.WithLabelValues(metrics.TransportWebSocket, channelEvents, "rejected").Inc()
		return
	}

	ctx, span := p.tel.StartWebSocketSpan(r.Context(), channelEvents,
		attribute.StringSlice("event.types", types))
	defer span.End()

	p.serveSocket(ctx, conn, types)
}

// serveSocket owns one client socket for its lifetime: it subscribes to the
// upstream feed, fans events out as JSON text frames, and keeps the peer
// alive with pings.
func (p *Proxy) serveSocket(ctx context.Context, conn *websocket.Conn, types []string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.metrics.StreamConnections.WithLabelValues(metrics.TransportWebSocket, channelEvents).Inc()
	defer p.metrics.StreamConnections.WithLabelValues(metrics.TransportWebSocket, channelEvents).Dec()

	started := time.Now()

	b := &socketBridge{p: p, conn: conn, ctx: ctx}

	pongWait := 2 * p.cfg.KeepaliveInterval
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	dialer := stream.NewHTTPDialer(p.stream)
	dialer.Header = p.backend.StreamHeader()

	cfg := &stream.Config{
		MaxRetries: p.cfg.MaxRetries,
		RetryDelay: p.cfg.RetryDelay,
		MaxDelay:   p.cfg.MaxDelay,
		EventTypes: []string{stream.AllEvents},
		Dialer:     dialer,
		Logger:     p.logger,
	}
	if len(types) > 0 {
		cfg.EventTypes = types
	}

	upstream := stream.New(ctx, p.backend.EventsURL(types), cfg, stream.Callbacks{
		OnMessage:  b.forward,
		OnError:    b.fail,
		OnComplete: b.complete,
	})
	defer upstream.Close()

	go b.ping(p.cfg.KeepaliveInterval)

	// The read loop only pumps control frames. It ends when the peer
	// closes, the pong deadline lapses, or complete tears the socket down.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	conn.Close()

	outcome := b.outcome()
	p.metrics.StreamConnectionsTotal.WithLabelValues(metrics.TransportWebSocket, channelEvents, outcome).Inc()
	p.bridges.RecordSession(ctx, metrics.TransportWebSocket, channelEvents, time.Since(started))
	p.logger.Debug("WebSocket session ended",
		"channel", channelEvents,
		"outcome", outcome,
		"duration", time.Since(started))
}

// socketBridge fans one upstream subscription out to one WebSocket client.
// Data frames are written only from the upstream callback goroutine; pings
// and the close frame go through WriteControl, which gorilla allows
// concurrently.
type socketBridge struct {
	p    *Proxy
	conn *websocket.Conn
	ctx  context.Context

	mu      sync.Mutex
	failure error
	done    bool
}

// forward writes one upstream event as a JSON text frame. Events that do
// not decode into the realtime shape are dropped.
func (b *socketBridge) forward(msg stream.Message) {
	var evt agent.RealtimeEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return
	}
	if evt.Type == "" {
		evt.Type = msg.Type
	}
	if evt.Type == "" || len(evt.Payload) == 0 {
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	b.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.p.logger.Debug("WebSocket write failed", "error", err)
		b.conn.Close()
		return
	}
	b.p.metrics.StreamEventsSent.WithLabelValues(metrics.TransportWebSocket, channelEvents).Inc()
	b.p.bridges.AddBytes(b.ctx, metrics.TransportWebSocket, channelEvents, int64(len(data)))
}

// fail records a terminal upstream failure. Parse errors are drops, not
// failures.
func (b *socketBridge) fail(err error) {
	if errors.IsType(err, errors.ErrorTypeParse) {
		return
	}
	b.mu.Lock()
	b.failure = err
	b.mu.Unlock()
}

// complete ends the socket after the upstream feed finishes: close frame
// first, then the transport, which unblocks the read loop.
func (b *socketBridge) complete() {
	b.mu.Lock()
	failure := b.failure
	b.done = true
	b.mu.Unlock()

	code, reason := websocket.CloseNormalClosure, "stream completed"
	if failure != nil {
		code, reason = websocket.CloseInternalServerErr, "upstream unavailable"
	}
	msg := websocket.FormatCloseMessage(code, reason)
	b.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	b.conn.Close()
}

// outcome classifies how the session ended for the connection counter.
func (b *socketBridge) outcome() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.failure != nil:
		return "error"
	case b.done:
		return "completed"
	default:
		return "client_closed"
	}
}

// ping keeps intermediaries from idling the socket out and detects dead
// peers via the pong deadline.
func (b *socketBridge) ping(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := b.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				b.conn.Close()
				return
			}
		}
	}
}

// Package proxy implements the explorer's public HTTP surface: thin REST
// passthroughs to the upstream registry, SSE bridges that re-serve the
// registry's streams, a WebSocket bridge over the realtime feed, and the
// dataset export endpoint. Handlers validate parameters and make exactly
// one proxied call; search, ranking, and aggregation stay upstream.
package proxy

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"agentscan/internal/agent"
	"agentscan/internal/backend"
	"agentscan/internal/query"
	"agentscan/internal/telemetry"
	"agentscan/pkg/errors"
	"agentscan/pkg/metrics"
)

// Stream channel labels shared by metrics and spans.
const (
	channelSearch = "search"
	channelEvents = "events"
)

// Config controls the stream bridges. Zero fields fall back to defaults.
type Config struct {
	// MaxRetries bounds upstream reconnects of the WebSocket bridge.
	MaxRetries int
	// RetryDelay is the bridge's base reconnect delay.
	RetryDelay time.Duration
	// MaxDelay caps the bridge's backoff schedule.
	MaxDelay time.Duration
	// KeepaliveInterval spaces SSE keepalive comments and WebSocket pings.
	KeepaliveInterval time.Duration
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		RetryDelay:        time.Second,
		MaxDelay:          30 * time.Second,
		KeepaliveInterval: 15 * time.Second,
	}
}

// Proxy serves the explorer API on top of the upstream registry.
type Proxy struct {
	cfg      Config
	backend  *backend.Client
	stream   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tel      *telemetry.Telemetry
	bridges  *telemetry.StreamInstruments
	upgrader websocket.Upgrader
}

// New creates the proxy. The metrics and telemetry arguments must not be
// nil; construct disabled telemetry rather than passing none.
func New(cfg Config, client *backend.Client, logger *slog.Logger, m *metrics.Metrics, tel *telemetry.Telemetry) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultConfig().KeepaliveInterval
	}

	bridges, err := tel.NewStreamInstruments()
	if err != nil {
		logger.Warn("Stream instruments unavailable", "error", err)
	}

	return &Proxy{
		cfg:     cfg,
		backend: client,
		stream:  newStreamClient(),
		logger:  logger.With("component", "proxy"),
		metrics: m,
		tel:     tel,
		bridges: bridges,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Public read-only surface; any origin may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// newStreamClient builds the HTTP client used for upstream stream dials.
// No global timeout: streams are long-lived, so only the handshake is
// bounded.
func newStreamClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Register mounts the explorer routes on mux.
func (p *Proxy) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/{chain}/{id}", p.handleAgent)
	mux.HandleFunc("GET /api/agents", p.handleSearch)
	mux.HandleFunc("GET /api/agents/export", p.handleExport)
	mux.HandleFunc("GET /api/leaderboard", p.handleLeaderboard)
	mux.HandleFunc("GET /api/search/stream", p.handleSearchStream)
	mux.HandleFunc("GET /api/events", p.handleEvents)
	mux.HandleFunc("GET /api/events/ws", p.handleEventsWS)
}

// handleAgent serves GET /api/agents/{chain}/{id}.
func (p *Proxy) handleAgent(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(r.PathValue("chain"), 10, 64)
	if err != nil {
		p.writeError(w, errors.NewError(errors.ErrorTypeBadRequest, "Invalid chain ID").
			WithDetail("chain", r.PathValue("chain")))
		return
	}

	ctx, span := p.tel.StartSpan(r.Context(), "proxy.get_agent")
	defer span.End()

	started := time.Now()
	result, err := p.backend.GetAgent(ctx, chainID, r.PathValue("id"))
	p.observeRegistry("get_agent", started, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
		p.writeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusOK, result)
}

// handleSearch serves GET /api/agents, the one-shot search passthrough.
func (p *Proxy) handleSearch(w http.ResponseWriter, r *http.Request) {
	s, err := query.ParseSearch(r.URL.Query())
	if err != nil {
		p.writeError(w, err)
		return
	}

	ctx, span := p.tel.StartSpan(r.Context(), "proxy.search")
	defer span.End()

	started := time.Now()
	page, err := p.backend.Search(ctx, s)
	p.observeRegistry("search", started, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
		p.writeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusOK, page)
}

// handleLeaderboard serves GET /api/leaderboard.
func (p *Proxy) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	var chainID int64
	if raw := values.Get("chain"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			p.writeError(w, errors.NewError(errors.ErrorTypeBadRequest, "Invalid chain ID").
				WithDetail("chain", raw))
			return
		}
		chainID = parsed
	}

	var limit int
	if raw := values.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			p.writeError(w, errors.NewError(errors.ErrorTypeBadRequest, "Invalid limit").
				WithDetail("limit", raw))
			return
		}
		limit = parsed
	}

	ctx, span := p.tel.StartSpan(r.Context(), "proxy.leaderboard")
	defer span.End()

	started := time.Now()
	entries, err := p.backend.Leaderboard(ctx, chainID, limit)
	p.observeRegistry("leaderboard", started, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
		p.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []agent.LeaderboardEntry{}
	}
	p.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// observeRegistry records one upstream call on the registry metric families.
func (p *Proxy) observeRegistry(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RegistryErrors.WithLabelValues(operation, string(errorType(err))).Inc()
	}
	p.metrics.RegistryRequestsTotal.WithLabelValues(operation, status).Inc()
	p.metrics.RegistryRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

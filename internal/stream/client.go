// Package stream implements the explorer's SSE client layer: a generic
// reconnecting connection manager plus the streaming-search and realtime
// event clients built on it. A client owns exactly one connection at a time,
// re-dials with exponential backoff after transport failures up to a retry
// ceiling, and surfaces everything through caller-supplied callbacks.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"agentscan/internal/sse"
	"agentscan/pkg/errors"
)

// State is the connection lifecycle state of a client.
type State int

const (
	// StateConnecting is the initial state while a dial is in flight.
	StateConnecting State = iota
	// StateOpen means the stream handshake succeeded and events flow.
	StateOpen
	// StateError means the last transport attempt failed; a reconnect may
	// be pending.
	StateError
	// StateClosed is terminal: reached by Close, the end-of-stream
	// sentinel, or retry exhaustion. No transition leaves it.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AllEvents is the wildcard event type: a client configured with it
// delivers every event regardless of its wire channel.
const AllEvents = "*"

// doneSentinel is the in-band end-of-stream marker. An empty payload is
// treated the same way.
const doneSentinel = "[DONE]"

// Config controls a stream client. The zero value of any field falls back
// to its default.
type Config struct {
	// MaxRetries is the reconnection ceiling. Once a run of consecutive
	// transport failures exceeds it the client closes permanently.
	MaxRetries int
	// RetryDelay is the base reconnect delay; attempt n waits roughly
	// RetryDelay * 2^(n-1) with 25% jitter.
	RetryDelay time.Duration
	// MaxDelay caps the backoff schedule.
	MaxDelay time.Duration
	// EventTypes lists the wire channels delivered to OnMessage. Empty
	// means the implicit "message" channel; AllEvents subscribes all.
	EventTypes []string
	// Dialer supplies transports. Defaults to an HTTP dialer.
	Dialer Dialer
	// Logger for connection lifecycle noise. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics, when set, records connection and event counters.
	Metrics *Metrics
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		RetryDelay: time.Second,
		MaxDelay:   30 * time.Second,
	}
}

func (c *Config) clone() *Config {
	if c == nil {
		return DefaultConfig()
	}
	dup := *c
	dup.EventTypes = append([]string(nil), c.EventTypes...)
	return &dup
}

// Message is one decoded event delivered to OnMessage.
type Message struct {
	// Type is the wire channel the event arrived on.
	Type string
	// Data is the validated JSON payload.
	Data json.RawMessage
}

// Callbacks is the uniform callback surface of a client. All fields are
// optional and nil-safe; callbacks are invoked sequentially from the
// client's connection goroutine and must not block.
type Callbacks struct {
	// OnMessage receives each decoded event.
	OnMessage func(msg Message)
	// OnOpen fires on every successful handshake, including reconnects.
	OnOpen func()
	// OnError receives parse failures, the terminal retry-exhausted
	// failure, and the capability-absence failure.
	OnError func(err error)
	// OnComplete fires exactly once when the stream ends: sentinel,
	// retry exhaustion, but not explicit Close.
	OnComplete func()
	// OnReconnect fires before each scheduled reconnect with the attempt
	// number, starting at 1 after every successful open.
	OnReconnect func(attempt int)
}

// Client is a reconnecting SSE connection manager. Create one with New;
// the connection starts immediately.
type Client struct {
	url      string
	cfg      *Config
	cb       Callbacks
	logger   *slog.Logger
	dialer   Dialer
	ctx      context.Context
	types    map[string]bool
	allTypes bool
	backoff  *backoff.ExponentialBackOff

	mu          sync.Mutex
	state       State
	attempt     int
	gen         int
	es          EventSource
	timer       *time.Timer
	wasOpen     bool
	unsupported bool
}

// New creates a client and immediately begins connecting to url. A nil cfg
// uses DefaultConfig. Cancelling ctx closes the client. If the dialer does
// not support event streams the client reports the failure through OnError
// before returning and never creates a transport.
func New(ctx context.Context, url string, cfg *Config, cb Callbacks) *Client {
	if ctx == nil {
		ctx = context.Background()
	}

	conf := cfg.clone()
	if conf.MaxRetries < 0 {
		conf.MaxRetries = 0
	}
	if conf.RetryDelay <= 0 {
		conf.RetryDelay = time.Second
	}
	if conf.MaxDelay <= 0 {
		conf.MaxDelay = 30 * time.Second
	}
	if conf.MaxDelay < conf.RetryDelay {
		conf.MaxDelay = conf.RetryDelay
	}
	if conf.Dialer == nil {
		conf.Dialer = defaultDialer
	}
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}

	c := &Client{
		url:    url,
		cfg:    conf,
		cb:     cb,
		logger: conf.Logger.With("component", "stream"),
		dialer: conf.Dialer,
		ctx:    ctx,
		types:  make(map[string]bool),
	}

	if len(conf.EventTypes) == 0 {
		c.types["message"] = true
	}
	for _, typ := range conf.EventTypes {
		if typ == AllEvents {
			c.allTypes = true
		}
		c.types[typ] = true
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conf.RetryDelay
	b.MaxInterval = conf.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	b.Reset()
	c.backoff = b

	// Capability check, evaluated per construction
	if !c.dialer.Supported() {
		c.state = StateError
		c.unsupported = true
		c.logger.Warn("Event streams unavailable", "url", url)
		if c.cb.OnError != nil {
			c.cb.OnError(errors.NewError(errors.ErrorTypeUnsupported, "SSE is not supported in this environment"))
		}
		return c
	}

	c.mu.Lock()
	c.connectLocked()
	c.mu.Unlock()

	context.AfterFunc(ctx, c.Close)

	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close shuts the client down: the state becomes closed, the transport is
// closed, any pending reconnect timer is cancelled, and no further callback
// fires. Close is idempotent. On a client that reported capability absence
// it is a no-op.
func (c *Client) Close() {
	c.mu.Lock()
	if c.unsupported || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	es := c.terminateLocked()
	c.mu.Unlock()

	if es != nil {
		es.Close()
	}
	c.logger.Debug("Stream client closed", "url", c.url)
}

// connectLocked dials a fresh transport and starts its connection
// goroutine. Caller holds mu.
func (c *Client) connectLocked() {
	c.gen++
	c.state = StateConnecting
	c.es = c.dialer.Dial(c.url)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Connects.Inc()
	}
	go c.run(c.gen, c.es)
}

// terminateLocked is the single transition into StateClosed. It invalidates
// outstanding goroutines and timers and hands back the transport for the
// caller to close outside the lock. Caller holds mu.
func (c *Client) terminateLocked() EventSource {
	c.state = StateClosed
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.wasOpen {
		c.wasOpen = false
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.Open.Dec()
		}
	}
	es := c.es
	c.es = nil
	return es
}

// run owns one transport for one generation: handshake, then the read loop.
func (c *Client) run(gen int, es EventSource) {
	defer es.Close()

	if err := es.Open(c.ctx); err != nil {
		c.handleTransportError(gen, err)
		return
	}
	if !c.handleOpen(gen) {
		return
	}

	for {
		ev, err := es.Read()
		if err != nil {
			c.handleTransportError(gen, err)
			return
		}
		if !c.handleEvent(gen, ev) {
			return
		}
	}
}

// handleOpen transitions connecting -> open and resets the retry state.
// Returns false if this generation is stale.
func (c *Client) handleOpen(gen int) bool {
	c.mu.Lock()
	if c.gen != gen || c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateOpen
	c.attempt = 0
	c.backoff.Reset()
	c.wasOpen = true
	c.mu.Unlock()

	c.logger.Debug("Event stream open", "url", c.url)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Open.Inc()
	}
	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}
	return true
}

// handleEvent delivers one inbound event: sentinel handling, JSON
// validation, type filtering. Returns false once the client is done.
func (c *Client) handleEvent(gen int, ev *sse.Event) bool {
	if !c.allTypes && !c.types[ev.Type] {
		return c.alive(gen)
	}

	if ev.Data == "" || ev.Data == doneSentinel {
		c.handleSentinel(gen)
		return false
	}

	var payload json.RawMessage
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		if !c.alive(gen) {
			return false
		}
		c.logger.Debug("Dropping unparseable event", "url", c.url, "error", err)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ParseErrors.Inc()
		}
		if c.cb.OnError != nil {
			c.cb.OnError(errors.NewError(errors.ErrorTypeParse, "Failed to parse SSE message").WithCause(err))
		}
		return c.alive(gen)
	}

	if !c.alive(gen) {
		return false
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Events.Inc()
	}
	if c.cb.OnMessage != nil {
		c.cb.OnMessage(Message{Type: ev.Type, Data: payload})
	}
	return c.alive(gen)
}

// handleSentinel processes the end-of-stream marker: one OnComplete, then
// the client closes for good.
func (c *Client) handleSentinel(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	es := c.terminateLocked()
	c.mu.Unlock()

	if es != nil {
		es.Close()
	}
	c.logger.Debug("Event stream completed", "url", c.url)
	if c.cb.OnComplete != nil {
		c.cb.OnComplete()
	}
}

// handleTransportError runs the retry state machine: under the ceiling it
// announces the attempt and schedules a reconnect on a brand-new transport;
// over it the client fails permanently.
func (c *Client) handleTransportError(gen int, err error) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	c.state = StateError
	c.attempt++
	attempt := c.attempt
	if c.wasOpen {
		c.wasOpen = false
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.Open.Dec()
		}
	}

	if attempt > c.cfg.MaxRetries {
		es := c.terminateLocked()
		c.mu.Unlock()

		if es != nil {
			es.Close()
		}
		c.logger.Warn("Event stream abandoned",
			"url", c.url,
			"retries", c.cfg.MaxRetries,
			"error", err)
		if c.cb.OnError != nil {
			c.cb.OnError(errors.NewError(errors.ErrorTypeUnavailable,
				fmt.Sprintf("Connection failed after %d retries", c.cfg.MaxRetries)).WithCause(err))
		}
		if c.cb.OnComplete != nil {
			c.cb.OnComplete()
		}
		return
	}

	delay := c.backoff.NextBackOff()
	c.mu.Unlock()

	c.logger.Debug("Scheduling reconnect",
		"url", c.url,
		"attempt", attempt,
		"delay", delay,
		"error", err)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Reconnects.Inc()
	}
	if c.cb.OnReconnect != nil {
		c.cb.OnReconnect(attempt)
	}

	// Install the timer only if nothing moved the machine meanwhile
	// (OnReconnect may have called Close).
	c.mu.Lock()
	if c.gen == gen && c.state == StateError {
		c.timer = time.AfterFunc(delay, func() { c.handleRetry(gen) })
	}
	c.mu.Unlock()
}

// handleRetry fires when the backoff timer elapses: error -> connecting with
// a new transport, unless the generation went stale.
func (c *Client) handleRetry(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateError {
		return
	}
	c.timer = nil
	c.connectLocked()
}

// alive reports whether the generation is still current and the client is
// not closed.
func (c *Client) alive(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.state != StateClosed
}

// Package backend implements the REST client for the upstream agent
// registry service. Calls are retried with exponential backoff and guarded
// by a circuit breaker; 4xx responses fail immediately.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"agentscan/internal/agent"
	"agentscan/internal/circuitbreaker"
	"agentscan/internal/query"
	"agentscan/internal/retry"
	"agentscan/pkg/errors"
)

// Upstream registry endpoints.
const (
	agentPathFormat   = "/v1/agents/%d/%s"
	searchPath        = "/v1/search"
	leaderboardPath   = "/v1/leaderboard"
	healthPath        = "/v1/health"
	searchStreamPath  = "/v1/search/stream"
	eventsPath        = "/v1/events"
	apiKeyHeader      = "X-API-Key"
	defaultTimeout    = 15 * time.Second
	defaultMaxLeaders = 25
)

// Config holds upstream connection settings.
type Config struct {
	// BaseURL is the registry service root, e.g. http://registry:8080.
	BaseURL string
	// APIKey, when set, is sent with every request.
	APIKey string
	// Timeout bounds each request attempt.
	Timeout time.Duration
	// Retry controls the per-call retry schedule.
	Retry retry.Config
	// Breaker controls the upstream circuit breaker.
	Breaker circuitbreaker.Config
}

// Client is the upstream registry client.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
}

// errorEnvelope is the error body the registry returns on failures.
type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// New creates a registry client. The HTTP client pools connections; request
// deadlines come from per-call contexts.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "registry"
	}
	cfg.Breaker.Logger = logger

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    newHTTPClient(),
		logger:  logger.With("component", "backend"),
		retrier: retry.New(cfg.Retry),
		breaker: circuitbreaker.New(cfg.Breaker),
	}
}

// newHTTPClient builds a pooled client for registry traffic. No global
// timeout; each request carries its own deadline.
func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// Close releases the client's background resources.
func (c *Client) Close() {
	c.breaker.Stop()
	c.http.CloseIdleConnections()
}

// Breaker exposes the upstream circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// GetAgent fetches a single agent by chain and registry ID.
func (c *Client) GetAgent(ctx context.Context, chainID int64, id string) (*agent.Agent, error) {
	if chainID <= 0 {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "Invalid chain ID").WithDetail("chainId", chainID)
	}
	if id == "" {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "Missing agent ID")
	}

	var out agent.Agent
	path := fmt.Sprintf(agentPathFormat, chainID, url.PathEscape(id))
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a one-shot (non-streaming) search.
func (c *Client) Search(ctx context.Context, s query.Search) (*agent.SearchPage, error) {
	var out agent.SearchPage
	if err := c.getJSON(ctx, searchPath, s.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Leaderboard fetches the reputation leaderboard. A zero limit uses the
// registry default.
func (c *Client) Leaderboard(ctx context.Context, chainID int64, limit int) ([]agent.LeaderboardEntry, error) {
	values := url.Values{}
	if chainID > 0 {
		values.Set("chain", strconv.FormatInt(chainID, 10))
	}
	if limit <= 0 {
		limit = defaultMaxLeaders
	}
	values.Set("limit", strconv.Itoa(limit))

	var out struct {
		Entries []agent.LeaderboardEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, leaderboardPath, values, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Health probes the registry health endpoint. It bypasses the retrier so a
// slow upstream shows up as unhealthy promptly.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, healthPath, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewError(errors.ErrorTypeUnavailable, "Registry is unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewError(errors.ErrorTypeUnavailable,
			fmt.Sprintf("Registry health returned status %d", resp.StatusCode))
	}
	return nil
}

// SearchStreamURL returns the upstream URL for a streamed search.
func (c *Client) SearchStreamURL(s query.Search) string {
	return query.BuildURL(c.baseURL, searchStreamPath, s.Values())
}

// EventsURL returns the upstream URL for the realtime event feed.
func (c *Client) EventsURL(types []string) string {
	values := url.Values{}
	if joined := query.JoinTypes(types); joined != "" {
		values.Set("types", joined)
	}
	return query.BuildURL(c.baseURL, eventsPath, values)
}

// StreamHeader returns the headers stream connections to the registry must
// carry.
func (c *Client) StreamHeader() http.Header {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set(apiKeyHeader, c.apiKey)
	}
	return header
}

// getJSON performs one GET with retry and breaker protection, decoding the
// response into out. The breaker sits outside the retry loop: a call counts
// one breaker event no matter how many attempts it took.
func (c *Client) getJSON(ctx context.Context, path string, values url.Values, out any) error {
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doGet(ctx, path, values, out)
		})
	})
}

// doGet is a single GET attempt.
func (c *Client) doGet(ctx context.Context, path string, values url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, path, values)
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewError(errors.ErrorTypeUnavailable, "Registry request failed").WithCause(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Registry request",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(started))

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A malformed body will not improve on retry
		return retry.NewNonRetryableError(
			errors.NewError(errors.ErrorTypeParse, "Failed to decode registry response").WithCause(err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, path string, values url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query.BuildURL(c.baseURL, path, values), nil)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "Failed to build registry request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	return req, nil
}

// statusError converts a non-200 response into a typed error, preferring the
// registry's own error message when the body carries one.
func (c *Client) statusError(resp *http.Response) error {
	message := fmt.Sprintf("Registry returned status %d", resp.StatusCode)

	var envelope errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	typed := errors.NewError(errors.TypeFromStatusCode(resp.StatusCode), message).
		WithDetail("status", resp.StatusCode)

	// Client-side mistakes do not heal on retry
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.NewNonRetryableError(typed)
	}
	return typed
}

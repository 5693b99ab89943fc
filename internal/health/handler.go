// Package health provides liveness and readiness checks for the
// explorer along with a background monitor for the upstream registry.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status represents the outcome of a health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is a named probe evaluated on demand.
type Check func(ctx context.Context) CheckResult

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Checker runs registered checks and aggregates their results.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	logger *slog.Logger
}

// NewChecker creates a Checker with no registered checks.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		checks: make(map[string]Check),
		logger: logger.With("component", "health"),
	}
}

// Register adds a named check. Registering the same name twice
// replaces the earlier check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// CheckHealth runs all registered checks in parallel and returns the
// aggregate status with per-check results.
func (c *Checker) CheckHealth(ctx context.Context) (Status, []CheckResult) {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	if len(checks) == 0 {
		return StatusHealthy, nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]CheckResult, 0, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			result := check(ctx)
			result.Name = name
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return status, results
}

// HealthResponse is the body served by the health endpoints.
type HealthResponse struct {
	Status    Status        `json:"status"`
	Version   string        `json:"version,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Handler serves the health, readiness and liveness endpoints.
type Handler struct {
	checker *Checker
	version string
}

// NewHandler creates a Handler backed by the given checker.
func NewHandler(checker *Checker, version string) *Handler {
	return &Handler{checker: checker, version: version}
}

// Health reports full health with per-check detail. Unhealthy aggregates
// return 503 so load balancers stop routing traffic here.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, results := h.checker.CheckHealth(ctx)
	h.write(w, status, HealthResponse{
		Status:    status,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    results,
	})
}

// Ready reports whether the explorer can serve traffic. Degraded still
// counts as ready; only unhealthy blocks.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, _ := h.checker.CheckHealth(ctx)
	h.write(w, status, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// Live reports process liveness only. It never consults checks, so a
// wedged upstream cannot get the process restarted.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	h.write(w, StatusHealthy, HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) write(w http.ResponseWriter, status Status, body HealthResponse) {
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentscan/pkg/metrics"
)

// Prober reports whether the upstream registry is reachable.
type Prober interface {
	Health(ctx context.Context) error
}

// MonitorConfig controls how the upstream monitor probes the registry.
type MonitorConfig struct {
	// Interval between probes.
	Interval time.Duration
	// Timeout for a single probe.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failed probes
	// before the upstream is reported unhealthy.
	FailureThreshold int
}

// DefaultMonitorConfig returns the probe cadence used by the explorer.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
	}
}

// UpstreamStatus is a snapshot of the monitor's view of the registry.
type UpstreamStatus struct {
	Healthy          bool      `json:"healthy"`
	LastCheck        time.Time `json:"last_check"`
	LastError        string    `json:"last_error,omitempty"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// Monitor probes the upstream registry in the background and caches the
// result so health endpoints never block on a slow upstream.
type Monitor struct {
	prober  Prober
	config  MonitorConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	status    UpstreamStatus
	callbacks []func(healthy bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor for the given prober. The metrics
// argument may be nil.
func NewMonitor(prober Prober, config MonitorConfig, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prober:  prober,
		config:  config,
		logger:  logger.With("component", "upstream_monitor"),
		metrics: m,
		// Optimistic until the first probe completes so the explorer
		// does not fail readiness during startup.
		status: UpstreamStatus{Healthy: true},
	}
}

// OnChange registers a callback fired when the upstream transitions
// between healthy and unhealthy. Callbacks must be registered before
// Start and are invoked from the monitor goroutine.
func (m *Monitor) OnChange(fn func(healthy bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Start begins probing. It returns an error if the monitor is already
// running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop halts probing and waits for the monitor goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

// Status returns the cached view of the upstream.
func (m *Monitor) Status() UpstreamStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Check returns a health check that reads the cached status, so the
// health endpoints reflect the monitor without probing the upstream
// inline.
func (m *Monitor) Check() Check {
	return func(ctx context.Context) CheckResult {
		status := m.Status()
		result := CheckResult{
			Status:    StatusHealthy,
			CheckedAt: time.Now().UTC(),
		}
		if !status.Healthy {
			result.Status = StatusUnhealthy
			result.Error = status.LastError
		}
		return result
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.probe(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	start := time.Now()
	err := m.prober.Health(probeCtx)
	duration := time.Since(start)

	if m.metrics != nil {
		m.metrics.HealthCheckDuration.WithLabelValues("registry").Observe(duration.Seconds())
	}
	m.update(err, duration)
}

func (m *Monitor) update(err error, duration time.Duration) {
	m.mu.Lock()
	wasHealthy := m.status.Healthy
	m.status.LastCheck = time.Now().UTC()

	if err != nil {
		m.status.ConsecutiveFails++
		m.status.LastError = err.Error()
		if m.status.ConsecutiveFails >= m.config.FailureThreshold {
			m.status.Healthy = false
		}
	} else {
		m.status.ConsecutiveFails = 0
		m.status.LastError = ""
		m.status.Healthy = true
	}

	nowHealthy := m.status.Healthy
	fails := m.status.ConsecutiveFails
	callbacks := m.callbacks
	m.mu.Unlock()

	if m.metrics != nil {
		value := 1.0
		if !nowHealthy {
			value = 0.0
		}
		m.metrics.HealthCheckStatus.WithLabelValues("registry").Set(value)
	}

	if err != nil {
		m.logger.Warn("Upstream probe failed",
			"error", err,
			"consecutive_fails", fails,
			"duration_ms", duration.Milliseconds())
	}

	if wasHealthy != nowHealthy {
		if nowHealthy {
			m.logger.Info("Upstream registry recovered")
		} else {
			m.logger.Error("Upstream registry unhealthy",
				"consecutive_fails", fails)
		}
		for _, fn := range callbacks {
			fn(nowHealthy)
		}
	}
}

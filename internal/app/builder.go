package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"agentscan/internal/backend"
	"agentscan/internal/circuitbreaker"
	"agentscan/internal/config"
	"agentscan/internal/health"
	"agentscan/internal/middleware"
	"agentscan/internal/proxy"
	"agentscan/internal/retry"
	"agentscan/internal/storage"
	"agentscan/internal/storage/memory"
	redisstore "agentscan/internal/storage/redis"
	"agentscan/internal/telemetry"
	"agentscan/pkg/metrics"
)

// Version is reported by the health endpoints. Overridden at build time
// via -ldflags "-X agentscan/internal/app.Version=...".
var Version = "dev"

// Builder assembles the explorer server from configuration.
type Builder struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
}

// NewBuilder creates an application builder.
func NewBuilder(cfg *config.Config, logger *slog.Logger) *Builder {
	return &Builder{config: cfg, logger: logger}
}

// WithRegistry registers metrics on reg instead of the default registry.
// Tests use this to build servers without duplicate registration.
func (b *Builder) WithRegistry(reg *prometheus.Registry) *Builder {
	b.registry = reg
	return b
}

// Build wires the explorer: metrics, telemetry, the upstream client, the
// health monitor, the rate limiter, and the routed middleware chain.
func (b *Builder) Build() (*Server, error) {
	cfg := b.config
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		m          *metrics.Metrics
		registerer prometheus.Registerer
	)
	if b.registry != nil {
		m = metrics.NewWithRegistry(b.registry, b.registry)
		registerer = b.registry
	} else {
		m = metrics.New()
		registerer = prometheus.DefaultRegisterer
	}

	tel, err := telemetry.New(cfg.Telemetry, registerer)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	client := backend.New(upstreamConfig(cfg.Upstream), logger)

	monitor := health.NewMonitor(client, monitorConfig(cfg.Health), logger, m)
	checker := health.NewChecker(logger)
	checker.Register("registry", monitor.Check())

	store, err := b.limiterStore()
	if err != nil {
		client.Close()
		return nil, err
	}

	prx := proxy.New(bridgeConfig(cfg.Stream), client, logger, m, tel)

	mux := http.NewServeMux()
	prx.Register(mux)

	healthHandler := health.NewHandler(checker, Version)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.HandleFunc("GET /live", healthHandler.Live)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, m.Handler())
		logger.Info("Metrics enabled", "path", path)
	}

	mws := []middleware.Middleware{
		middleware.RequestID(),
		middleware.Tracing(tel),
		middleware.Logging(logger),
		middleware.Recovery(logger),
		middleware.CORS(corsConfig(cfg.CORS)),
	}
	if store != nil {
		mws = append(mws, middleware.RateLimit(middleware.RateLimitConfig{
			Store:   store,
			Limit:   cfg.RateLimit.Limit,
			Burst:   cfg.RateLimit.Burst,
			Window:  time.Duration(cfg.RateLimit.Window) * time.Second,
			Logger:  logger,
			Metrics: m,
		}))
		logger.Info("Rate limiting enabled",
			"store", storeName(cfg.RateLimit.Store),
			"limit", cfg.RateLimit.Limit,
		)
	}
	mws = append(mws, middleware.Metrics(m))

	return &Server{
		config:  cfg,
		logger:  logger,
		handler: middleware.Chain(mws...)(mux),
		backend: client,
		monitor: monitor,
		store:   store,
		tel:     tel,
	}, nil
}

// limiterStore builds the configured rate limit store, or nil when rate
// limiting is disabled.
func (b *Builder) limiterStore() (storage.LimiterStore, error) {
	rl := b.config.RateLimit
	if !rl.Enabled {
		return nil, nil
	}
	switch rl.Store {
	case "", "memory":
		return memory.NewStore(nil), nil
	case "redis":
		client, err := redisstore.Dial(context.Background(), redisstore.Options{
			Addrs:    rl.Redis.Addrs,
			Password: rl.Redis.Password,
			DB:       rl.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting rate limit store: %w", err)
		}
		return redisstore.NewStore(client), nil
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", rl.Store)
	}
}

func storeName(name string) string {
	if name == "" {
		return "memory"
	}
	return name
}

// upstreamConfig converts the config units (seconds, milliseconds) into
// the backend client's durations.
func upstreamConfig(cfg config.Upstream) backend.Config {
	return backend.Config{
		BaseURL: cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		Retry: retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelay) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelay) * time.Millisecond,
		},
		Breaker: circuitbreaker.Config{
			MaxFailures:      cfg.CircuitBreaker.MaxFailures,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			Timeout:          time.Duration(cfg.CircuitBreaker.ResetTimeout) * time.Second,
			MaxRequests:      cfg.CircuitBreaker.HalfOpenRequests,
		},
	}
}

func bridgeConfig(cfg config.Stream) proxy.Config {
	return proxy.Config{
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        time.Duration(cfg.RetryDelay) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.MaxDelay) * time.Millisecond,
		KeepaliveInterval: time.Duration(cfg.KeepaliveInterval) * time.Second,
	}
}

func corsConfig(cfg config.CORS) middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
}

func monitorConfig(cfg config.Health) health.MonitorConfig {
	return health.MonitorConfig{
		Interval:         time.Duration(cfg.Interval) * time.Second,
		Timeout:          time.Duration(cfg.Timeout) * time.Second,
		FailureThreshold: cfg.FailureThreshold,
	}
}

// Package config loads the explorer configuration: embedded defaults,
// a YAML file layered on top, then AGENTSCAN_* environment overrides.
package config

import (
	"agentscan/internal/telemetry"
)

// Config is the root configuration tree.
type Config struct {
	Server    Server           `yaml:"server"`
	Upstream  Upstream         `yaml:"upstream"`
	Stream    Stream           `yaml:"stream"`
	CORS      CORS             `yaml:"cors"`
	RateLimit RateLimit        `yaml:"rateLimit"`
	Logging   Logging          `yaml:"logging"`
	Metrics   Metrics          `yaml:"metrics"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Health    Health           `yaml:"health"`
}

// Server configures the explorer's own HTTP listener.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ReadTimeout in seconds.
	ReadTimeout int `yaml:"readTimeout"`
	// WriteTimeout in seconds. Zero means none; the stream endpoints
	// hold responses open indefinitely.
	WriteTimeout int `yaml:"writeTimeout"`
	// IdleTimeout in seconds.
	IdleTimeout int `yaml:"idleTimeout"`
	// ShutdownTimeout in seconds bounds graceful stop.
	ShutdownTimeout int  `yaml:"shutdownTimeout"`
	TLS             *TLS `yaml:"tls,omitempty"`
}

// TLS configures the listener certificate.
type TLS struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"certFile"`
	KeyFile    string `yaml:"keyFile"`
	MinVersion string `yaml:"minVersion,omitempty"`
}

// Upstream configures the registry connection.
type Upstream struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey"`
	// RequestTimeout in seconds bounds each REST call.
	RequestTimeout int            `yaml:"requestTimeout"`
	Retry          Retry          `yaml:"retry"`
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`
}

// Retry configures the upstream retry schedule.
type Retry struct {
	MaxAttempts int `yaml:"maxAttempts"`
	// InitialDelay in milliseconds.
	InitialDelay int `yaml:"initialDelay"`
	// MaxDelay in milliseconds.
	MaxDelay int `yaml:"maxDelay"`
}

// CircuitBreaker configures the upstream breaker.
type CircuitBreaker struct {
	MaxFailures      int     `yaml:"maxFailures"`
	FailureThreshold float64 `yaml:"failureThreshold"`
	// ResetTimeout in seconds is how long the circuit stays open.
	ResetTimeout int `yaml:"resetTimeout"`
	// HalfOpenRequests is the probe budget while half-open.
	HalfOpenRequests int `yaml:"halfOpenRequests"`
}

// Stream configures the proxied stream reconnect behavior.
type Stream struct {
	MaxRetries int `yaml:"maxRetries"`
	// RetryDelay in milliseconds.
	RetryDelay int `yaml:"retryDelay"`
	// MaxDelay in milliseconds.
	MaxDelay int `yaml:"maxDelay"`
	// KeepaliveInterval in seconds between SSE keepalive comments.
	KeepaliveInterval int `yaml:"keepaliveInterval"`
}

// CORS configures cross-origin access to the API.
type CORS struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	ExposedHeaders   []string `yaml:"exposedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	// MaxAge in seconds for preflight caching.
	MaxAge int `yaml:"maxAge"`
}

// RateLimit configures per-client request limits.
type RateLimit struct {
	Enabled bool `yaml:"enabled"`
	// Store selects the backend: memory or redis.
	Store string `yaml:"store"`
	Limit int    `yaml:"limit"`
	Burst int    `yaml:"burst"`
	// Window in seconds.
	Window int   `yaml:"window"`
	Redis  Redis `yaml:"redis"`
}

// Redis configures the redis limiter store.
type Redis struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

// Logging configures slog output.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Health configures the upstream monitor.
type Health struct {
	// Interval in seconds between upstream probes.
	Interval int `yaml:"interval"`
	// Timeout in seconds per probe.
	Timeout int `yaml:"timeout"`
	// FailureThreshold is consecutive failures before unhealthy.
	FailureThreshold int `yaml:"failureThreshold"`
}

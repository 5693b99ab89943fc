package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"agentscan/pkg/errors"
)

// Loader builds the effective configuration: embedded defaults, then
// the config file (if any), then environment overrides.
type Loader struct {
	path       string
	envEnabled bool
}

// NewLoader creates a loader. An empty path means defaults plus
// environment only.
func NewLoader(path string) *Loader {
	return &Loader{path: path, envEnabled: true}
}

// WithEnvVars enables or disables environment variable overrides.
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// Path returns the config file path, empty when running on defaults.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg, err := LoadDefault()
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "Failed to parse default config").WithCause(err)
	}

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "Failed to read config file").WithCause(err)
		}
		// Unmarshal over the defaults; keys absent from the file keep
		// their default values.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeParse, "Failed to parse config file").WithCause(err)
		}
	}

	if l.envEnabled {
		if err := LoadEnv(cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeBadRequest, "Invalid environment override").WithCause(err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "Invalid configuration").WithCause(err)
	}
	return cfg, nil
}

// Validate checks invariants the rest of the explorer relies on.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("tls enabled but certFile/keyFile missing")
		}
	}

	if cfg.Upstream.URL == "" {
		return fmt.Errorf("upstream url is required")
	}
	u, err := url.Parse(cfg.Upstream.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream url: %q", cfg.Upstream.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported upstream scheme: %q", u.Scheme)
	}

	if cfg.RateLimit.Enabled {
		switch cfg.RateLimit.Store {
		case "memory":
		case "redis":
			if len(cfg.RateLimit.Redis.Addrs) == 0 {
				return fmt.Errorf("redis rate limit store requires at least one address")
			}
		default:
			return fmt.Errorf("unknown rate limit store: %q", cfg.RateLimit.Store)
		}
		if cfg.RateLimit.Limit <= 0 {
			return fmt.Errorf("rate limit must be positive, got %d", cfg.RateLimit.Limit)
		}
		if cfg.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive, got %d", cfg.RateLimit.Window)
		}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		return fmt.Errorf("metrics enabled but path is empty")
	}
	return nil
}

package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"agentscan/internal/storage"
	"agentscan/pkg/errors"
	"agentscan/pkg/metrics"
)

// RateLimitConfig configures per-client request limits.
type RateLimitConfig struct {
	// Store tracks request counts; required.
	Store storage.LimiterStore
	// Limit is requests allowed per Window.
	Limit int
	// Burst is the short-term ceiling (defaults to Limit).
	Burst int
	// Window is the accounting period (default 1s).
	Window time.Duration
	// KeyFunc derives the limit key from a request (default ClientIP).
	KeyFunc func(*http.Request) string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// RateLimit rejects clients that exceed the configured request rate
// with 429 and Retry-After. Store failures fail open: the explorer
// keeps serving reads when the limiter backend is down.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.KeyFunc(r)

			d, err := cfg.Store.Allow(r.Context(), key, cfg.Limit, cfg.Burst, cfg.Window)
			if err != nil {
				logger.Warn("Rate limit check failed",
					"key", key,
					"path", r.URL.Path,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				retryAfter := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

				if cfg.Metrics != nil {
					cfg.Metrics.RateLimitRejected.WithLabelValues(metrics.NormalizePath(r.URL.Path)).Inc()
				}
				logger.Warn("Rate limit exceeded",
					"key", key,
					"path", r.URL.Path,
				)
				writeError(w, errors.NewError(errors.ErrorTypeRateLimited, "Rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

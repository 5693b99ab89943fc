package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	// AllowedOrigins lists permitted origins; "*" allows any.
	AllowedOrigins []string
	AllowedMethods []string
	// AllowedHeaders lists request headers permitted in preflight;
	// "*" allows whatever the browser asks for.
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is how long (seconds) a preflight result may be cached.
	MaxAge int
}

// DefaultCORSConfig allows read access from any origin, which suits a
// public explorer API.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	}
}

// CORS applies cross-origin headers and terminates preflight requests.
// Origin and header sets are precomputed once at construction.
func CORS(cfg CORSConfig) Middleware {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = DefaultCORSConfig().AllowedMethods
	}

	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[strings.ToLower(o)] = true
	}
	allowedHeaders := make(map[string]bool, len(cfg.AllowedHeaders))
	for _, h := range cfg.AllowedHeaders {
		allowedHeaders[strings.ToLower(h)] = true
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")

	originAllowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		return origins["*"] || origins[strings.ToLower(origin)]
	}

	methodAllowed := func(method string) bool {
		for _, m := range cfg.AllowedMethods {
			if strings.EqualFold(m, method) {
				return true
			}
		}
		return false
	}

	headersAllowed := func(requested string) bool {
		if allowedHeaders["*"] {
			return true
		}
		for _, h := range strings.Split(requested, ",") {
			if !allowedHeaders[strings.ToLower(strings.TrimSpace(h))] {
				return false
			}
		}
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h := w.Header()
				if originAllowed(origin) {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					if cfg.AllowCredentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
				}
				if methodAllowed(r.Header.Get("Access-Control-Request-Method")) {
					h.Set("Access-Control-Allow-Methods", methods)
				}
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" && headersAllowed(reqHeaders) {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if originAllowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if exposed != "" {
					h.Set("Access-Control-Expose-Headers", exposed)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

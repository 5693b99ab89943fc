package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"agentscan/pkg/errors"
)

// Recovery converts handler panics into 500 responses. The stack is
// logged, never exposed to the client.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", RequestIDFromContext(r.Context()),
						"stack", string(debug.Stack()),
					)
					writeError(w, errors.NewError(errors.ErrorTypeInternal, "Internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

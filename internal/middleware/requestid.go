package middleware

import (
	"context"
	"net/http"

	"agentscan/pkg/requestid"
)

// HeaderRequestID is the header carrying the request ID.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestID tags each request with a unique ID, reusing one supplied
// by the caller. The ID is echoed on the response and stored in the
// request context for downstream handlers and logs.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = requestid.New()
			}

			w.Header().Set(HeaderRequestID, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext returns the request ID set by RequestID, or ""
// when the middleware did not run.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

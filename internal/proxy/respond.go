package proxy

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"agentscan/pkg/errors"
)

// errorType extracts the structured error type for metric labels.
func errorType(err error) errors.ErrorType {
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return typed.Type
	}
	return errors.ErrorTypeInternal
}

// asError normalizes a failure into the structured error the envelope
// carries. Untyped errors map to internal without leaking their text.
func asError(err error) *errors.Error {
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return typed
	}
	return errors.NewError(errors.ErrorTypeInternal, "Internal server error").WithCause(err)
}

// writeJSON renders a JSON response body.
func (p *Proxy) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		p.logger.Debug("Failed to encode response", "error", err)
	}
}

// writeError renders the API error envelope, the same shape the registry
// itself returns.
func (p *Proxy) writeError(w http.ResponseWriter, err error) {
	typed := asError(err)
	p.writeJSON(w, typed.HTTPStatusCode(), map[string]any{
		"error": map[string]any{
			"type":    typed.Type,
			"message": typed.Message,
		},
	})
}

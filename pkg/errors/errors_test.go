package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		name      string
		errorType ErrorType
		message   string
	}{
		{
			name:      "not found error",
			errorType: ErrorTypeNotFound,
			message:   "Agent not found",
		},
		{
			name:      "unavailable error",
			errorType: ErrorTypeUnavailable,
			message:   "Registry API unavailable",
		},
		{
			name:      "parse error",
			errorType: ErrorTypeParse,
			message:   "Failed to parse SSE message",
		},
		{
			name:      "unsupported error",
			errorType: ErrorTypeUnsupported,
			message:   "SSE is not supported in this environment",
		},
		{
			name:      "rate limited error",
			errorType: ErrorTypeRateLimited,
			message:   "Too many requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(tt.errorType, tt.message)

			if err.Type != tt.errorType {
				t.Errorf("NewError() type = %v, want %v", err.Type, tt.errorType)
			}

			if err.Message != tt.message {
				t.Errorf("NewError() message = %v, want %v", err.Message, tt.message)
			}

			if err.Details == nil {
				t.Error("NewError() details should be initialized")
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err1 := NewError(ErrorTypeNotFound, "Agent not found")
	if got, want := err1.Error(), "not_found: Agent not found"; got != want {
		t.Errorf("Error() = %v, want %v", got, want)
	}

	cause := fmt.Errorf("connection refused")
	err2 := NewError(ErrorTypeUnavailable, "Upstream unavailable").WithCause(cause)
	if got, want := err2.Error(), "unavailable: Upstream unavailable: connection refused"; got != want {
		t.Errorf("Error() = %v, want %v", got, want)
	}
}

func TestErrorDetails(t *testing.T) {
	err := NewError(ErrorTypeBadRequest, "Invalid search query").
		WithDetail("param", "chains").
		WithDetail("value", "not-a-number")

	if err.Details["param"] != "chains" {
		t.Errorf("WithDetail() param = %v, want chains", err.Details["param"])
	}

	if err.Details["value"] != "not-a-number" {
		t.Errorf("WithDetail() value = %v, want not-a-number", err.Details["value"])
	}

	// Details never leak into the error string.
	if strings.Contains(err.Error(), "chains") {
		t.Errorf("Error() should not include details, got %v", err.Error())
	}
}

func TestErrorIs(t *testing.T) {
	err := NewError(ErrorTypeTimeout, "Upstream request timed out")

	if !stderrors.Is(err, NewError(ErrorTypeTimeout, "anything")) {
		t.Error("Is() should match on error type")
	}

	if stderrors.Is(err, NewError(ErrorTypeNotFound, "anything")) {
		t.Error("Is() should not match a different type")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("tcp dial error")
	err := NewError(ErrorTypeUnavailable, "Upstream unreachable").WithCause(cause)

	if stderrors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", stderrors.Unwrap(err), cause)
	}
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{
			name:    "direct match",
			err:     NewError(ErrorTypeParse, "Failed to parse SSE message"),
			errType: ErrorTypeParse,
			want:    true,
		},
		{
			name:    "wrapped match",
			err:     fmt.Errorf("read event: %w", NewError(ErrorTypeParse, "Failed to parse SSE message")),
			errType: ErrorTypeParse,
			want:    true,
		},
		{
			name:    "type mismatch",
			err:     NewError(ErrorTypeUnavailable, "Connection failed"),
			errType: ErrorTypeParse,
			want:    false,
		},
		{
			name:    "plain error",
			err:     fmt.Errorf("plain"),
			errType: ErrorTypeParse,
			want:    false,
		},
		{
			name:    "nil error",
			err:     nil,
			errType: ErrorTypeParse,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsType(tt.err, tt.errType); got != tt.want {
				t.Errorf("IsType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    int
	}{
		{ErrorTypeNotFound, 404},
		{ErrorTypeBadRequest, 400},
		{ErrorTypeTimeout, 408},
		{ErrorTypeUnavailable, 503},
		{ErrorTypeParse, 502},
		{ErrorTypeUnsupported, 501},
		{ErrorTypeRateLimited, 429},
		{ErrorTypeInternal, 500},
		{ErrorType("unknown"), 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := NewError(tt.errType, "test")
			if got := err.HTTPStatusCode(); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTypeFromStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{400, ErrorTypeBadRequest},
		{404, ErrorTypeNotFound},
		{408, ErrorTypeTimeout},
		{422, ErrorTypeBadRequest},
		{429, ErrorTypeRateLimited},
		{500, ErrorTypeUnavailable},
		{501, ErrorTypeUnsupported},
		{502, ErrorTypeUnavailable},
		{503, ErrorTypeUnavailable},
		{200, ErrorTypeInternal},
	}

	for _, tt := range tests {
		if got := TypeFromStatusCode(tt.status); got != tt.want {
			t.Errorf("TypeFromStatusCode(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	cause := fmt.Errorf("boom")
	wrapped := Wrap(cause, "fetch leaderboard")
	if !stderrors.Is(wrapped, cause) {
		t.Error("Wrap() result should unwrap to the cause")
	}
	if got, want := wrapped.Error(), "fetch leaderboard: boom"; got != want {
		t.Errorf("Wrap() = %v, want %v", got, want)
	}
}

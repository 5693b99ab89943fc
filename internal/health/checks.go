package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPCheck probes url with a GET and reports healthy on any 2xx.
// The request inherits the caller's context so endpoint timeouts apply.
func HTTPCheck(url string, timeout time.Duration) Check {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		result := CheckResult{
			Status:    StatusHealthy,
			CheckedAt: start.UTC(),
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			result.DurationMS = time.Since(start).Milliseconds()
			return result
		}

		resp, err := client.Do(req)
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			result.DurationMS = time.Since(start).Milliseconds()
			return result
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			result.Status = StatusUnhealthy
			result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}
}

// ErrorCheck wraps a plain error-returning probe as a Check.
func ErrorCheck(fn func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		result := CheckResult{
			Status:    StatusHealthy,
			CheckedAt: start.UTC(),
		}
		if err := fn(ctx); err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
		}
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUpstreamFetch marks a failed call to the observation network (transport error,
	// non-2xx status, undecodable body, or an open circuit).
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrGenerationFailed marks a failed text generation call.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrGenerationUnconfigured is returned when no generation API key is set.
	ErrGenerationUnconfigured = errors.New("generation not configured")
	ErrRateLimited            = errors.New("rate limited")
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// checkStatus maps a non-2xx response to sentinel, tagging 429 as rate limited.
func checkStatus(resp *http.Response, sentinel error) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w: HTTP %d", sentinel, ErrRateLimited, resp.StatusCode)
	}
	return fmt.Errorf("%w: HTTP %d", sentinel, resp.StatusCode)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

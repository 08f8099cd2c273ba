package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hinyari/amedas-ranking-service/internal/circuitbreaker"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for metrics labeling, including sentinel errors, wrapped errors, and message-based heuristics.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"open circuit", fmt.Errorf("%w: latestTime: %w", ErrUpstreamFetch, circuitbreaker.ErrOpen), ErrorCategoryCircuitOpen},
		{"rate limited", fmt.Errorf("%w: %w: HTTP 429", ErrGenerationFailed, ErrRateLimited), ErrorCategoryRateLimited},
		{"unconfigured", ErrGenerationUnconfigured, ErrorCategoryUnconfigured},
		{"upstream status", fmt.Errorf("snapshot: %w: HTTP 503", ErrUpstreamFetch), ErrorCategoryUpstream},
		{"generation status", fmt.Errorf("%w: HTTP 500", ErrGenerationFailed), ErrorCategoryGeneration},
		{"timeout in message", errors.New("request timeout"), ErrorCategoryTimeout},
		{"network in message", errors.New("dial tcp: connection refused"), ErrorCategoryNetwork},
		{"parse in message", fmt.Errorf("%w: parse snapshot: bad", ErrUpstreamFetch), ErrorCategoryParsing},
		{"validation in message", errors.New("invalid city"), ErrorCategoryValidation},
		{"cache in message", errors.New("cache get failed"), ErrorCategoryCache},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

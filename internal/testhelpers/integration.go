//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hinyari/amedas-ranking-service/internal/amedas"
	"github.com/hinyari/amedas-ranking-service/internal/circuitbreaker"
	"github.com/hinyari/amedas-ranking-service/internal/client"
	"github.com/hinyari/amedas-ranking-service/internal/service"
)

// IntegrationTestConfig holds configuration for tests against the live JMA endpoints.
type IntegrationTestConfig struct {
	AmedasBaseURL string
	Timeout       time.Duration
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless AMEDAS_LIVE is set, so CI never depends on JMA availability.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("AMEDAS_LIVE") == "" {
		t.Skip("AMEDAS_LIVE not set, skipping live AMeDAS integration test")
	}

	baseURL := os.Getenv("AMEDAS_BASE_URL")
	if baseURL == "" {
		baseURL = "https://www.jma.go.jp/bosai/amedas"
	}
	return IntegrationTestConfig{
		AmedasBaseURL: baseURL,
		Timeout:       15 * time.Second,
	}
}

// SetupIntegrationRanking wires the live ranking pipeline: JMA client behind a
// circuit breaker, station directory, observation fetcher and ranking service.
func SetupIntegrationRanking(t *testing.T, cfg IntegrationTestConfig) (*service.RankingService, *amedas.Directory) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 3,
		Timeout:          30 * time.Second,
		Component:        "jma",
	})
	jma := client.NewJMAClient(cfg.AmedasBaseURL, cfg.Timeout, breaker)
	directory := amedas.NewDirectory(jma, amedas.WithLogger(logger))
	fetcher := amedas.NewFetcher(directory, jma, nil, logger)
	return service.NewRankingService(fetcher), directory
}

package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hinyari/amedas-ranking-service/internal/models"
	"github.com/hinyari/amedas-ranking-service/internal/observability"
	"github.com/hinyari/amedas-ranking-service/internal/ranking"
)

// ObservationSource provides the latest observation snapshot.
type ObservationSource interface {
	LatestObservations(ctx context.Context) ([]models.Observation, error)
}

// RankingService builds temperature rankings from the latest snapshot.
type RankingService struct {
	source ObservationSource
}

// NewRankingService creates a RankingService over source.
func NewRankingService(source ObservationSource) *RankingService {
	return &RankingService{source: source}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// Ranking fetches the latest observations and ranks them by temperature.
// Errors keep ErrUpstreamFetch and ErrNoValidData in their chain.
func (s *RankingService) Ranking(ctx context.Context, limit int, dir ranking.Direction) ([]models.RankingEntry, error) {
	return s.RankingBy(ctx, ranking.MetricTemp, limit, dir)
}

// RankingBy is Ranking for an arbitrary metric.
func (s *RankingService) RankingBy(ctx context.Context, metric ranking.Metric, limit int, dir ranking.Direction) ([]models.RankingEntry, error) {
	observability.RankingRequestsTotal.WithLabelValues(string(dir)).Inc()
	logger := loggerFromContext(ctx)

	obs, err := s.source.LatestObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	entries, err := ranking.RankBy(obs, metric, limit, dir)
	if err != nil {
		return nil, fmt.Errorf("rank %d observations by %s: %w", len(obs), metric, err)
	}
	if logger != nil {
		logger.Debug("ranking built",
			zap.String("direction", string(dir)),
			zap.String("metric", string(metric)),
			zap.Int("observations", len(obs)),
			zap.Int("entries", len(entries)),
		)
	}
	return entries, nil
}

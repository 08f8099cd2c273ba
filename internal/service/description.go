package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hinyari/amedas-ranking-service/internal/cache"
	"github.com/hinyari/amedas-ranking-service/internal/client"
	"github.com/hinyari/amedas-ranking-service/internal/models"
	"github.com/hinyari/amedas-ranking-service/internal/observability"
)

const (
	generatedFoundVia = "Google Gemini AIで生成"
	searchURLPrefix   = "https://www.google.com/search?q="
	// DefaultGenerationTimeout bounds one generation call when none is configured.
	DefaultGenerationTimeout = 20 * time.Second
)

// Generator produces text for a prompt. An empty result with nil error means
// nothing was generated.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// DescriptionService serves location descriptions from the cache and fills
// misses by generating and writing through.
type DescriptionService struct {
	store     cache.Store
	generator Generator
	coalescer *requestCoalescer[string]
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewDescriptionService creates a DescriptionService. A nil generator leaves
// generation unconfigured and every miss returns the placeholder.
func NewDescriptionService(store cache.Store, generator Generator, timeout time.Duration, logger *zap.Logger) *DescriptionService {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DescriptionService{
		store:     store,
		generator: generator,
		// waiters may outlive the generation itself by the cache write
		coalescer: newRequestCoalescer[string](timeout + 5*time.Second),
		timeout:   timeout,
		now:       time.Now,
		logger:    logger,
	}
}

// Placeholder is the text served while no description is available.
func Placeholder(city, region string) string {
	city = strings.TrimSpace(city)
	region = cache.NormalizeRegion(region)
	if region == "" {
		return city + "の詳細情報を取得中です..."
	}
	return city + "（" + region + "）の詳細情報を取得中です..."
}

// Describe returns the cached description for (city, region), generating and
// caching one on a miss. It never fails: any problem yields Placeholder.
func (s *DescriptionService) Describe(ctx context.Context, city, region string) string {
	city = strings.TrimSpace(city)
	region = cache.NormalizeRegion(region)
	key := cache.DeriveKey(city, region)
	logger := s.requestLogger(ctx).With(zap.String("key", key))

	if extract, ok := s.lookup(ctx, logger, key); ok {
		observability.RecordDescription(observability.OutcomeCached)
		logger.Debug("description served from cache")
		return extract
	}

	if s.generator == nil {
		observability.RecordDescription(observability.OutcomePlaceholder)
		logger.Debug("generation not configured, serving placeholder")
		return Placeholder(city, region)
	}

	_, shared, err := s.coalescer.GetOrDo(ctx, key, func() (string, error) {
		return s.generateAndStore(ctx, logger, city, region, key)
	})
	if shared {
		observability.CoalescedGenerationsTotal.Inc()
	}
	if err != nil {
		observability.RecordDescription(observability.OutcomePlaceholder)
		logger.Warn("description generation failed",
			zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))),
		)
		return Placeholder(city, region)
	}

	if extract, ok := s.lookup(ctx, logger, key); ok {
		observability.RecordDescription(observability.OutcomeGenerated)
		return extract
	}
	observability.RecordDescription(observability.OutcomePlaceholder)
	return Placeholder(city, region)
}

// lookup treats read errors and empty extracts as misses.
func (s *DescriptionService) lookup(ctx context.Context, logger *zap.Logger, key string) (string, bool) {
	rec, ok, err := s.store.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed", zap.Error(err))
		return "", false
	}
	if !ok || rec.Info.Extract == "" {
		return "", false
	}
	return rec.Info.Extract, true
}

// generateAndStore runs detached from the caller's cancellation so a shared
// generation survives the first caller leaving. Cache write failures are logged
// and not returned.
func (s *DescriptionService) generateAndStore(ctx context.Context, logger *zap.Logger, city, region, key string) (string, error) {
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.generator.Generate(genCtx, BuildPrompt(city, region))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logger.Info("generation returned no text")
		return "", nil
	}

	rec := models.CacheRecord{
		Info:      generatedInfo(city, region, text),
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.store.Set(genCtx, key, rec); err != nil {
		logger.Warn("cache set failed", zap.Error(err))
		return text, nil
	}
	logger.Info("description generated and cached",
		zap.Int("length", len([]rune(text))),
		zap.Duration("duration", time.Since(start)),
	)
	return text, nil
}

func generatedInfo(city, region, extract string) models.LocationInfo {
	title := city
	query := city + " 日本"
	if region != "" {
		title = city + " (" + region + ")"
		query = city + " " + region + " 日本"
	}
	return models.LocationInfo{
		Title:       title,
		Extract:     extract,
		URL:         searchURLPrefix + strings.ReplaceAll(url.QueryEscape(query), "+", "%20"),
		FoundVia:    generatedFoundVia,
		IsGenerated: true,
	}
}

func (s *DescriptionService) requestLogger(ctx context.Context) *zap.Logger {
	if l := loggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

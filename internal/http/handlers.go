package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hinyari/amedas-ranking-service/internal/amedas"
	"github.com/hinyari/amedas-ranking-service/internal/cache"
	"github.com/hinyari/amedas-ranking-service/internal/client"
	"github.com/hinyari/amedas-ranking-service/internal/degraded"
	"github.com/hinyari/amedas-ranking-service/internal/lifecycle"
	"github.com/hinyari/amedas-ranking-service/internal/models"
	"github.com/hinyari/amedas-ranking-service/internal/ranking"
	"github.com/hinyari/amedas-ranking-service/internal/validation"
)

const (
	serviceName = "amedas-ranking-service"
	// maxLocationLength bounds city and region query values in runes.
	maxLocationLength = 64
	// maxCacheKeyLength bounds /cache/{key} path keys in runes.
	maxCacheKeyLength = 200
	// maxCacheBodyBytes bounds POST /cache/{key} bodies.
	maxCacheBodyBytes = 64 << 10
	// timestampLayout is RFC 3339 in UTC with millisecond precision.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// RankingProvider builds temperature rankings.
type RankingProvider interface {
	Ranking(ctx context.Context, limit int, dir ranking.Direction) ([]models.RankingEntry, error)
}

// Describer returns a description or placeholder for a location. It never fails.
type Describer interface {
	Describe(ctx context.Context, city, region string) string
}

// RankingLimits bounds the limit query parameter of the ranking endpoint.
type RankingLimits struct {
	Default int
	Max     int
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
	// CacheBackend labels the cache check in the health response.
	CacheBackend string
	// CachePing, when set, is called to check cache reachability.
	CachePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	rankings         RankingProvider
	descriptions     Describer
	store            cache.Store
	limits           RankingLimits
	healthConfig     *HealthConfig
	logger           *zap.Logger
	validate         *validator.Validate
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. Zero limits fall back to 10 and 50.
func NewHandler(
	rankings RankingProvider,
	descriptions Describer,
	store cache.Store,
	limits RankingLimits,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if limits.Max <= 0 {
		limits.Max = 50
	}
	if limits.Default <= 0 {
		limits.Default = 10
	}
	if limits.Default > limits.Max {
		limits.Default = limits.Max
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		rankings:     rankings,
		descriptions: descriptions,
		store:        store,
		limits:       limits,
		healthConfig: healthConfig,
		logger:       logger,
		validate:     validation.NewValidator(),
		now:          time.Now,
	}
}

type rankingResponse struct {
	Success   bool                  `json:"success"`
	Data      []models.RankingEntry `json:"data"`
	Timestamp string                `json:"timestamp"`
	Type      string                `json:"type"`
	Count     int                   `json:"count"`
}

type rankingFailure struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// GetTemperatureRanking handles GET /api/temperature-ranking?limit=&type=.
func (h *Handler) GetTemperatureRanking(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit := h.parseLimit(params.Get("limit"))
	dir := ranking.ParseDirection(params.Get("type"))

	entries, err := h.rankings.Ranking(r.Context(), limit, dir)
	degraded.Record(err)
	if err != nil {
		status, msg := rankingErrorStatus(r.Context(), err)
		h.writeRankingFailure(w, r, status, msg, err)
		return
	}
	if entries == nil {
		entries = []models.RankingEntry{}
	}
	writeJSON(w, http.StatusOK, rankingResponse{
		Success:   true,
		Data:      entries,
		Timestamp: h.timestamp(),
		Type:      string(dir),
		Count:     len(entries),
	})
}

// parseLimit returns the default for a missing, non-numeric or non-positive
// limit and clamps to the maximum.
func (h *Handler) parseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		n = h.limits.Default
	}
	if n > h.limits.Max {
		n = h.limits.Max
	}
	return n
}

// rankingErrorStatus maps a ranking failure to a response. An expired request
// deadline wins over the upstream error it caused.
func rankingErrorStatus(ctx context.Context, err error) (int, string) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Ranking request timed out"
	case errors.Is(err, amedas.ErrUpstreamFetch):
		return http.StatusBadGateway, "Unable to fetch AMeDAS data"
	case errors.Is(err, ranking.ErrNoValidData):
		return http.StatusUnprocessableEntity, "No valid temperature data"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Ranking request timed out"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handler) writeRankingFailure(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	requestLogger(r, h.logger).Warn("ranking request failed",
		zap.Int("status", status),
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err),
	)
	writeJSON(w, status, rankingFailure{Success: false, Error: msg, Timestamp: h.timestamp()})
}

type descriptionQuery struct {
	City   string `validate:"required,max=64,location"`
	Region string `validate:"omitempty,max=64,location"`
}

type descriptionResponse struct {
	City        string `json:"city"`
	Region      string `json:"region"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

// GetDescription handles GET /api/description?city=&region=.
func (h *Handler) GetDescription(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := descriptionQuery{
		City:   strings.TrimSpace(params.Get("city")),
		Region: cache.NormalizeRegion(params.Get("region")),
	}
	if err := h.validate.Struct(q); err != nil {
		requestLogger(r, h.logger).Debug("invalid description query", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", invalidLocationMessage(q))
		return
	}

	writeJSON(w, http.StatusOK, descriptionResponse{
		City:        q.City,
		Region:      q.Region,
		Key:         cache.DeriveKey(q.City, q.Region),
		Description: h.descriptions.Describe(r.Context(), q.City, q.Region),
	})
}

func invalidLocationMessage(q descriptionQuery) string {
	if _, err := validation.ValidateLocationName(q.City, 1, maxLocationLength); err != nil {
		return "city: " + err.Error()
	}
	if q.Region != "" {
		if _, err := validation.ValidateLocationName(q.Region, 1, maxLocationLength); err != nil {
			return "region: " + err.Error()
		}
	}
	return "invalid location"
}

// GetCache handles GET /cache/{key}. A miss is 404 with a JSON null body.
func (h *Handler) GetCache(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(w, r)
	if !ok {
		return
	}
	rec, found, err := h.store.Get(r.Context(), key)
	if err != nil {
		requestLogger(r, h.logger).Warn("cache get failed", zap.String("key", key), zap.Error(err))
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PostCache handles POST /cache/{key} with a {info, timestamp} body.
func (h *Handler) PostCache(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(w, r)
	if !ok {
		return
	}
	var rec models.CacheRecord
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCacheBodyBytes))
	if err := dec.Decode(&rec); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a cache record")
		return
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = h.now().UnixMilli()
	}
	if err := h.store.Set(r.Context(), key, rec); err != nil {
		requestLogger(r, h.logger).Error("cache set failed", zap.String("key", key), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to save cache"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func cacheKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(mux.Vars(r)["key"])
	if key == "" || len([]rune(key)) > maxCacheKeyLength {
		writeError(w, r, http.StatusBadRequest, "INVALID_KEY", "cache key is required")
		return "", false
	}
	return key, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["amedas"] = "unhealthy"
	} else {
		checks["amedas"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		name := "cache"
		if h.healthConfig.CacheBackend != "" {
			name = "cache_" + h.healthConfig.CacheBackend
		}
		if h.healthConfig.CachePing(r.Context()) == nil {
			checks[name] = "healthy"
		} else {
			checks[name] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": h.timestamp(),
	}
	if result.status == "shutting-down" {
		resp["drainingSeconds"] = lifecycle.DrainingFor().Seconds()
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(h.now().Sub(h.healthConfig.StartTime).Seconds())
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down > degraded > healthy.
// Cache reachability is reported in checks but does not change the status,
// since descriptions fall back to placeholders.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && degraded.IsDegraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(timestampLayout)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// requestLogger returns the request-scoped logger placed by CorrelationIDMiddleware, or fallback.
func requestLogger(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

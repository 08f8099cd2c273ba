package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hinyari/amedas-ranking-service/internal/amedas"
	"github.com/hinyari/amedas-ranking-service/internal/cache"
	"github.com/hinyari/amedas-ranking-service/internal/degraded"
	"github.com/hinyari/amedas-ranking-service/internal/lifecycle"
	"github.com/hinyari/amedas-ranking-service/internal/models"
	"github.com/hinyari/amedas-ranking-service/internal/ranking"
)

type mockRankings struct {
	mu       sync.Mutex
	entries  []models.RankingEntry
	err      error
	gotLimit int
	gotDir   ranking.Direction
}

func (m *mockRankings) Ranking(ctx context.Context, limit int, dir ranking.Direction) ([]models.RankingEntry, error) {
	m.mu.Lock()
	m.gotLimit, m.gotDir = limit, dir
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.entries) {
		return m.entries[:limit], nil
	}
	return m.entries, nil
}

type mockDescriber struct {
	mu    sync.Mutex
	text  string
	calls []string
}

func (m *mockDescriber) Describe(ctx context.Context, city, region string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, city+"|"+region)
	if m.text != "" {
		return m.text
	}
	return city + ":" + region
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) (models.CacheRecord, bool, error) {
	return models.CacheRecord{}, false, cache.ErrCacheUnavailable
}

func (failingStore) Set(ctx context.Context, key string, value models.CacheRecord) error {
	return fmt.Errorf("%w: disk full", cache.ErrCacheUnavailable)
}

func sampleEntries(n int) []models.RankingEntry {
	out := make([]models.RankingEntry, n)
	for i := range out {
		out[i] = models.RankingEntry{Rank: i + 1, StationName: fmt.Sprintf("S%d", i+1), Temperature: 40 - float64(i)}
	}
	return out
}

// newTestServer builds the full router over the given dependencies.
func newTestServer(t *testing.T, rankings RankingProvider, describer Describer, store cache.Store, hc *HealthConfig) (*Handler, http.Handler) {
	t.Helper()
	if store == nil {
		store = cache.NewInMemoryStore()
	}
	if describer == nil {
		describer = &mockDescriber{}
	}
	if rankings == nil {
		rankings = &mockRankings{}
	}
	h := NewHandler(rankings, describer, store, RankingLimits{Default: 10, Max: 50}, hc, zap.NewNop())
	h.now = func() time.Time { return time.Date(2025, 8, 1, 5, 10, 0, 123e6, time.UTC) }
	return h, NewRouter(h, nil, 2*time.Second, zap.NewNop())
}

func doRequest(router http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_GetTemperatureRanking_Success(t *testing.T) {
	degraded.Reset()
	defer degraded.Reset()
	rankings := &mockRankings{entries: sampleEntries(12)}
	_, router := newTestServer(t, rankings, nil, nil, nil)

	w := doRequest(router, http.MethodGet, "/api/temperature-ranking", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Success   bool                  `json:"success"`
		Data      []models.RankingEntry `json:"data"`
		Timestamp string                `json:"timestamp"`
		Type      string                `json:"type"`
		Count     int                   `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Type != "hottest" || resp.Count != 10 || len(resp.Data) != 10 {
		t.Errorf("response = %+v, want success hottest with 10 entries", resp)
	}
	if resp.Timestamp != "2025-08-01T05:10:00.123Z" {
		t.Errorf("timestamp = %q", resp.Timestamp)
	}
	if resp.Data[0].Rank != 1 || resp.Data[0].StationName != "S1" {
		t.Errorf("first entry = %+v", resp.Data[0])
	}
	if errs, total := degraded.ErrorRate(time.Minute); errs != 0 || total != 1 {
		t.Errorf("degraded.ErrorRate() = (%d, %d), want (0, 1)", errs, total)
	}
}

func TestHandler_GetTemperatureRanking_QueryParsing(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
		wantDir   ranking.Direction
	}{
		{"defaults", "", 10, ranking.Hottest},
		{"explicit limit", "?limit=5", 5, ranking.Hottest},
		{"non-numeric limit", "?limit=abc", 10, ranking.Hottest},
		{"zero limit", "?limit=0", 10, ranking.Hottest},
		{"negative limit", "?limit=-3", 10, ranking.Hottest},
		{"limit clamped", "?limit=100", 50, ranking.Hottest},
		{"limit at max", "?limit=50", 50, ranking.Hottest},
		{"coolest", "?type=coolest", 10, ranking.Coolest},
		{"coolest uppercase", "?type=COOLEST&limit=3", 3, ranking.Coolest},
		{"unknown type", "?type=warmest", 10, ranking.Hottest},
		{"blank params", "?type=&limit=", 10, ranking.Hottest},
		{"garbage params", "?type=%3Cscript%3E&limit=1e9", 10, ranking.Hottest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rankings := &mockRankings{entries: sampleEntries(60)}
			_, router := newTestServer(t, rankings, nil, nil, nil)

			w := doRequest(router, http.MethodGet, "/api/temperature-ranking"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if rankings.gotLimit != tt.wantLimit || rankings.gotDir != tt.wantDir {
				t.Errorf("Ranking(limit=%d, dir=%s), want (%d, %s)", rankings.gotLimit, rankings.gotDir, tt.wantLimit, tt.wantDir)
			}
			var resp struct {
				Type string `json:"type"`
			}
			_ = json.NewDecoder(w.Body).Decode(&resp)
			if resp.Type != string(tt.wantDir) {
				t.Errorf("type = %q, want %q", resp.Type, tt.wantDir)
			}
		})
	}
}

func TestHandler_GetTemperatureRanking_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"upstream failure", fmt.Errorf("load observations: %w", fmt.Errorf("%w: HTTP 503", amedas.ErrUpstreamFetch)), http.StatusBadGateway},
		{"no valid data", fmt.Errorf("rank 0 observations by temp: %w", ranking.ErrNoValidData), http.StatusUnprocessableEntity},
		{"upstream client timeout with live request", fmt.Errorf("%w: request timeout: %w", amedas.ErrUpstreamFetch, context.DeadlineExceeded), http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			degraded.Reset()
			defer degraded.Reset()
			_, router := newTestServer(t, &mockRankings{err: tt.err}, nil, nil, nil)

			w := doRequest(router, http.MethodGet, "/api/temperature-ranking", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp map[string]interface{}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["success"] != false || resp["error"] == "" || resp["timestamp"] == nil {
				t.Errorf("failure body = %v", resp)
			}
			if _, ok := resp["data"]; ok {
				t.Error("failure body carries data")
			}
			if errs, _ := degraded.ErrorRate(time.Minute); errs != 1 {
				t.Errorf("degraded errors = %d, want 1", errs)
			}
		})
	}
}

func TestHandler_GetTemperatureRanking_EmptyDataIsArray(t *testing.T) {
	_, router := newTestServer(t, &mockRankings{entries: nil}, nil, nil, nil)
	w := doRequest(router, http.MethodGet, "/api/temperature-ranking", "")
	if !strings.Contains(w.Body.String(), `"data":[]`) {
		t.Errorf("body = %s, want empty data array", w.Body.String())
	}
}

func TestHandler_GetTemperatureRanking_LogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	h := NewHandler(&mockRankings{err: fmt.Errorf("%w: timeout", amedas.ErrUpstreamFetch)}, &mockDescriber{}, cache.NewInMemoryStore(), RankingLimits{}, nil, logger)
	router := NewRouter(h, nil, 0, logger)

	doRequest(router, http.MethodGet, "/api/temperature-ranking", "")

	entries := logs.FilterMessage("ranking request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusBadGateway) {
		t.Errorf("status field = %v, want 502", fields["status"])
	}
	if fields["correlation_id"] == nil {
		t.Error("failure log missing correlation_id from request logger")
	}
}

func TestHandler_GetDescription(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantKey    string
		wantRegion string
		wantCall   string
	}{
		{"city and region", "?city=%E6%97%A5%E5%85%89&region=%E6%A0%83%E6%9C%A8", http.StatusOK, "日光_栃木", "栃木", "日光|栃木"},
		{"city only", "?city=%E6%97%A5%E5%85%89", http.StatusOK, "日光", "", "日光|"},
		{"region undefined", "?city=%E6%97%A5%E5%85%89&region=undefined", http.StatusOK, "日光", "", "日光|"},
		{"romaji with spaces", "?city=Oku%20Nikko&region=Tochigi", http.StatusOK, "Oku_Nikko_Tochigi", "Tochigi", "Oku Nikko|Tochigi"},
		{"missing city", "?region=%E6%A0%83%E6%9C%A8", http.StatusBadRequest, "", "", ""},
		{"blank city", "?city=%20%20", http.StatusBadRequest, "", "", ""},
		{"invalid city chars", "?city=%E6%97%A5%E5%85%89%2F..", http.StatusBadRequest, "", "", ""},
		{"invalid region chars", "?city=Nikko&region=a%25b", http.StatusBadRequest, "", "", ""},
		{"city too long", "?city=" + strings.Repeat("a", 65), http.StatusBadRequest, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			describer := &mockDescriber{}
			_, router := newTestServer(t, nil, describer, nil, nil)

			w := doRequest(router, http.MethodGet, "/api/description"+tt.query, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if len(describer.calls) != 0 {
					t.Errorf("Describe called for invalid query: %v", describer.calls)
				}
				var errResp struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				_ = json.NewDecoder(w.Body).Decode(&errResp)
				if errResp.Error.Code != "INVALID_LOCATION" {
					t.Errorf("error.code = %q, want INVALID_LOCATION", errResp.Error.Code)
				}
				return
			}
			var resp descriptionResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Key != tt.wantKey || resp.Region != tt.wantRegion {
				t.Errorf("response = %+v, want key %q region %q", resp, tt.wantKey, tt.wantRegion)
			}
			if len(describer.calls) != 1 || describer.calls[0] != tt.wantCall {
				t.Errorf("Describe calls = %v, want [%s]", describer.calls, tt.wantCall)
			}
		})
	}
}

func TestHandler_CacheRoutes_RoundTrip(t *testing.T) {
	_, router := newTestServer(t, nil, nil, cache.NewInMemoryStore(), nil)

	w := doRequest(router, http.MethodGet, "/cache/%E6%97%A5%E5%85%89_%E6%A0%83%E6%9C%A8", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET miss status = %d, want 404", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "null" {
		t.Errorf("GET miss body = %q, want null", w.Body.String())
	}

	body := `{"info":{"title":"日光 (栃木)","extract":"日光は避暑地です。","url":"https://example.com"},"timestamp":1754025000000}`
	w = doRequest(router, http.MethodPost, "/cache/%E6%97%A5%E5%85%89_%E6%A0%83%E6%9C%A8", body)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"success":true}` {
		t.Errorf("POST body = %q", w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/cache/%E6%97%A5%E5%85%89_%E6%A0%83%E6%9C%A8", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET hit status = %d, want 200", w.Code)
	}
	var rec models.CacheRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Info.Extract != "日光は避暑地です。" || rec.Timestamp != 1754025000000 {
		t.Errorf("record = %+v", rec)
	}
}

func TestHandler_PostCache_FillsMissingTimestamp(t *testing.T) {
	store := cache.NewInMemoryStore()
	_, router := newTestServer(t, nil, nil, store, nil)

	w := doRequest(router, http.MethodPost, "/cache/nikko", `{"info":{"title":"Nikko","extract":"x","url":""}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	rec, ok, _ := store.Get(context.Background(), "nikko")
	if !ok {
		t.Fatal("record not stored")
	}
	if want := time.Date(2025, 8, 1, 5, 10, 0, 123e6, time.UTC).UnixMilli(); rec.Timestamp != want {
		t.Errorf("timestamp = %d, want %d", rec.Timestamp, want)
	}
}

func TestHandler_PostCache_Failures(t *testing.T) {
	tests := []struct {
		name       string
		store      cache.Store
		body       string
		wantStatus int
		wantBody   string
	}{
		{"malformed json", cache.NewInMemoryStore(), `{"info":`, http.StatusBadRequest, "INVALID_BODY"},
		{"store failure", failingStore{}, `{"info":{"title":"t","extract":"e","url":""},"timestamp":1}`, http.StatusInternalServerError, `{"error":"Failed to save cache"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestServer(t, nil, nil, tt.store, nil)
			w := doRequest(router, http.MethodPost, "/cache/nikko", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandler_GetCache_StoreErrorIsNotFound(t *testing.T) {
	_, router := newTestServer(t, nil, nil, failingStore{}, nil)
	w := doRequest(router, http.MethodGet, "/cache/nikko", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name         string
		setup        func()
		hc           *HealthConfig
		wantStatus   int
		wantState    string
		wantCacheKey string
		wantCache    string
	}{
		{
			name:       "healthy without config",
			setup:      func() {},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
		},
		{
			name:       "shutting down",
			setup:      func() { lifecycle.SetShuttingDown(true) },
			hc:         &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "shutting-down",
		},
		{
			name: "degraded by error rate",
			setup: func() {
				degraded.RecordError()
				degraded.RecordError()
				degraded.RecordSuccess()
			},
			hc:         &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "degraded",
		},
		{
			name: "below error threshold",
			setup: func() {
				degraded.RecordError()
				degraded.RecordSuccess()
				degraded.RecordSuccess()
			},
			hc:         &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
		},
		{
			name:  "cache unreachable is reported but not fatal",
			setup: func() {},
			hc: &HealthConfig{
				CacheBackend: "redis",
				CachePing:    func(ctx context.Context) error { return cache.ErrCacheUnavailable },
			},
			wantStatus:   http.StatusOK,
			wantState:    "healthy",
			wantCacheKey: "cache_redis",
			wantCache:    "unhealthy",
		},
		{
			name:  "cache reachable",
			setup: func() {},
			hc: &HealthConfig{
				CachePing: func(ctx context.Context) error { return nil },
			},
			wantStatus:   http.StatusOK,
			wantState:    "healthy",
			wantCacheKey: "cache",
			wantCache:    "healthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			degraded.Reset()
			lifecycle.SetShuttingDown(false)
			defer func() {
				degraded.Reset()
				lifecycle.SetShuttingDown(false)
			}()
			tt.setup()

			_, router := newTestServer(t, nil, nil, nil, tt.hc)
			w := doRequest(router, http.MethodGet, "/health", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp struct {
				Status  string            `json:"status"`
				Service string            `json:"service"`
				Checks  map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantState || resp.Service != serviceName {
				t.Errorf("status = %q service = %q, want %q", resp.Status, resp.Service, tt.wantState)
			}
			if tt.wantCacheKey != "" && resp.Checks[tt.wantCacheKey] != tt.wantCache {
				t.Errorf("checks[%s] = %q, want %q", tt.wantCacheKey, resp.Checks[tt.wantCacheKey], tt.wantCache)
			}
		})
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	degraded.Reset()
	lifecycle.SetShuttingDown(false)
	defer func() {
		degraded.Reset()
		lifecycle.SetShuttingDown(false)
	}()

	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(&mockRankings{}, &mockDescriber{}, cache.NewInMemoryStore(), RankingLimits{}, nil, zap.New(core))

	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	lifecycle.SetShuttingDown(true)
	h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("expected one transition log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "shutting-down" {
		t.Errorf("transition fields = %v", fields)
	}
}

func TestNewHandler_LimitDefaults(t *testing.T) {
	tests := []struct {
		in   RankingLimits
		want RankingLimits
	}{
		{RankingLimits{}, RankingLimits{Default: 10, Max: 50}},
		{RankingLimits{Default: 20, Max: 5}, RankingLimits{Default: 5, Max: 5}},
		{RankingLimits{Default: 3, Max: 30}, RankingLimits{Default: 3, Max: 30}},
	}
	for _, tt := range tests {
		h := NewHandler(&mockRankings{}, &mockDescriber{}, cache.NewInMemoryStore(), tt.in, nil, nil)
		if h.limits != tt.want {
			t.Errorf("NewHandler(%+v).limits = %+v, want %+v", tt.in, h.limits, tt.want)
		}
	}
}

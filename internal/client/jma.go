package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hinyari/amedas-ranking-service/internal/circuitbreaker"
	"github.com/hinyari/amedas-ranking-service/internal/observability"
)

// RawStation is one entry of the AMeDAS station table. Lat and Lon are [degrees, minutes].
type RawStation struct {
	Type   string    `json:"type"`
	Elems  string    `json:"elems"`
	Lat    []float64 `json:"lat"`
	Lon    []float64 `json:"lon"`
	Alt    float64   `json:"alt"`
	KjName string    `json:"kjName"`
	KnName string    `json:"knName"`
	EnName string    `json:"enName"`
}

// RawSnapshot maps station ID to its observation fields. Each field is kept
// undecoded because upstream mixes [value, flag] pairs, nulls, and scalars.
type RawSnapshot map[string]map[string]json.RawMessage

// JMAClient fetches AMeDAS documents. A nil breaker disables circuit breaking.
type JMAClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewJMAClient creates a client rooted at baseURL (e.g. https://www.jma.go.jp/bosai/amedas).
func NewJMAClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *JMAClient {
	return &JMAClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(timeout),
		breaker: breaker,
	}
}

// FetchStationTable fetches const/amedastable.json.
func (c *JMAClient) FetchStationTable(ctx context.Context) (map[string]RawStation, error) {
	body, err := c.get(ctx, observability.SourceStationTable, "/const/amedastable.json")
	if err != nil {
		return nil, err
	}
	var table map[string]RawStation
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("%w: parse station table: %v", ErrUpstreamFetch, err)
	}
	return table, nil
}

// FetchLatestTime fetches data/latest_time.txt and returns its trimmed text.
func (c *JMAClient) FetchLatestTime(ctx context.Context) (string, error) {
	body, err := c.get(ctx, observability.SourceLatestTime, "/data/latest_time.txt")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// FetchSnapshot fetches data/map/{token}00.json where token is YYYYMMDDHHmm.
func (c *JMAClient) FetchSnapshot(ctx context.Context, token string) (RawSnapshot, error) {
	body, err := c.get(ctx, observability.SourceSnapshot, "/data/map/"+token+"00.json")
	if err != nil {
		return nil, err
	}
	var snap RawSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: parse snapshot %s: %v", ErrUpstreamFetch, token, err)
	}
	return snap, nil
}

// get performs one GET through the circuit breaker. Every failure wraps ErrUpstreamFetch.
func (c *JMAClient) get(ctx context.Context, source, path string) ([]byte, error) {
	var body []byte
	call := func() error {
		var err error
		body, err = c.doGet(ctx, source, path)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		if errors.Is(err, ErrUpstreamFetch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamFetch, source, err)
	}
	return body, nil
}

func (c *JMAClient) doGet(ctx context.Context, source, path string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveUpstream(source, err, time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ErrUpstreamFetch); err != nil {
		observability.ObserveUpstream(source, err, time.Since(start))
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	body, err := io.ReadAll(resp.Body)
	observability.ObserveUpstream(source, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

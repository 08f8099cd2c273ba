// Package amedas loads the AMeDAS station directory and the latest observation snapshot.
package amedas

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hinyari/amedas-ranking-service/internal/client"
	"github.com/hinyari/amedas-ranking-service/internal/models"
	"github.com/hinyari/amedas-ranking-service/internal/observability"
)

// ErrUpstreamFetch is returned when any upstream document cannot be fetched or decoded.
var ErrUpstreamFetch = client.ErrUpstreamFetch

// DefaultDirectoryTTL is how long a loaded station table is served before a refetch.
const DefaultDirectoryTTL = 24 * time.Hour

// TableSource fetches the raw station table.
type TableSource interface {
	FetchStationTable(ctx context.Context) (map[string]client.RawStation, error)
}

// Directory memoizes the station table for a TTL. Safe for concurrent use.
type Directory struct {
	source TableSource
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu       sync.RWMutex
	stations map[string]models.Station
	loadedAt time.Time
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithTTL overrides DefaultDirectoryTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger used for refresh events.
func WithLogger(logger *zap.Logger) DirectoryOption {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirectory creates a Directory backed by source.
func NewDirectory(source TableSource, opts ...DirectoryOption) *Directory {
	d := &Directory{
		source: source,
		ttl:    DefaultDirectoryTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stations returns the station map, refetching when nothing is loaded or the TTL has passed.
// On refetch failure the expired map is not served. The returned map must not be modified.
func (d *Directory) Stations(ctx context.Context) (map[string]models.Station, error) {
	d.mu.RLock()
	stations, loadedAt := d.stations, d.loadedAt
	d.mu.RUnlock()

	if stations != nil && d.now().Sub(loadedAt) < d.ttl {
		return stations, nil
	}
	return d.refresh(ctx)
}

// Warm loads the directory once. Intended for startup.
func (d *Directory) Warm(ctx context.Context) error {
	_, err := d.refresh(ctx)
	return err
}

func (d *Directory) refresh(ctx context.Context) (map[string]models.Station, error) {
	raw, err := d.source.FetchStationTable(ctx)
	if err != nil {
		observability.DirectoryRefreshesTotal.WithLabelValues("error").Inc()
		d.logger.Warn("station directory refresh failed",
			zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))),
		)
		return nil, err
	}

	stations := make(map[string]models.Station, len(raw))
	for id, rs := range raw {
		stations[id] = toStation(id, rs)
	}

	d.mu.Lock()
	d.stations = stations
	d.loadedAt = d.now()
	d.mu.Unlock()

	observability.DirectoryRefreshesTotal.WithLabelValues("success").Inc()
	d.logger.Info("station directory loaded", zap.Int("stations", len(stations)))
	return stations, nil
}

func toStation(id string, rs client.RawStation) models.Station {
	return models.Station{
		ID:     id,
		Type:   rs.Type,
		Lat:    degMin(rs.Lat),
		Lon:    degMin(rs.Lon),
		Alt:    rs.Alt,
		KjName: rs.KjName,
		KnName: rs.KnName,
		EnName: rs.EnName,
	}
}

// degMin converts [degrees, minutes] to decimal degrees.
func degMin(v []float64) float64 {
	switch len(v) {
	case 0:
		return 0
	case 1:
		return v[0]
	default:
		return v[0] + v[1]/60
	}
}

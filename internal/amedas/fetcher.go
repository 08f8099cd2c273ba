package amedas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hinyari/amedas-ranking-service/internal/client"
	"github.com/hinyari/amedas-ranking-service/internal/models"
)

// snapshotTokenLayout is the YYYYMMDDHHmm form used in snapshot document names.
const snapshotTokenLayout = "200601021504"

// Upstream field names read from a snapshot entry.
const (
	fieldTemp          = "temp"
	fieldHumidity      = "humidity"
	fieldPressure      = "pressure"
	fieldWind          = "wind"
	fieldPrecipitation = "precipitation1h"
)

// SnapshotSource fetches the latest observation time and the snapshot it names.
type SnapshotSource interface {
	FetchLatestTime(ctx context.Context) (string, error)
	FetchSnapshot(ctx context.Context, token string) (client.RawSnapshot, error)
}

// StationLookup resolves the station directory.
type StationLookup interface {
	Stations(ctx context.Context) (map[string]models.Station, error)
}

// Fetcher joins the latest snapshot with the station directory.
type Fetcher struct {
	stations StationLookup
	source   SnapshotSource
	loc      *time.Location
	logger   *zap.Logger
}

// NewFetcher creates a Fetcher. loc is the zone snapshot names are expressed in;
// nil means JST (UTC+9).
func NewFetcher(stations StationLookup, source SnapshotSource, loc *time.Location, logger *zap.Logger) *Fetcher {
	if loc == nil {
		loc = time.FixedZone("JST", 9*60*60)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{stations: stations, source: source, loc: loc, logger: logger}
}

// LatestObservations returns one Observation per snapshot entry whose station is
// in the directory, ordered by station ID.
func (f *Fetcher) LatestObservations(ctx context.Context) ([]models.Observation, error) {
	var (
		stations   map[string]models.Station
		latestTime string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stations, err = f.stations.Stations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		latestTime, err = f.source.FetchLatestTime(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	token, err := SnapshotToken(latestTime, f.loc)
	if err != nil {
		return nil, err
	}

	snap, err := f.source.FetchSnapshot(ctx, token)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	observations := make([]models.Observation, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		station, ok := stations[id]
		if !ok {
			skipped++
			continue
		}
		fields := snap[id]
		observations = append(observations, models.Observation{
			StationID:     id,
			StationName:   station.KjName,
			Lat:           station.Lat,
			Lon:           station.Lon,
			Temp:          MetricValue(fields[fieldTemp]),
			Humidity:      MetricValue(fields[fieldHumidity]),
			Pressure:      MetricValue(fields[fieldPressure]),
			Wind:          MetricValue(fields[fieldWind]),
			Precipitation: MetricValue(fields[fieldPrecipitation]),
		})
	}

	f.logger.Debug("observations loaded",
		zap.String("snapshot", token),
		zap.Int("observations", len(observations)),
		zap.Int("unknownStations", skipped),
	)
	return observations, nil
}

// SnapshotToken converts the latest-time text (RFC 3339) into the YYYYMMDDHHmm
// token in loc. Unparseable text is ErrUpstreamFetch.
func SnapshotToken(latestTime string, loc *time.Location) (string, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(latestTime))
	if err != nil {
		return "", fmt.Errorf("%w: parse latest time %q: %v", ErrUpstreamFetch, latestTime, err)
	}
	return t.In(loc).Format(snapshotTokenLayout), nil
}

var jsonNull = []byte("null")

// MetricValue extracts the value from an upstream [value, qualityFlag, ...] pair.
// It returns nil when raw is missing, not an array, empty, or its first element
// is null or not a number.
func MetricValue(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) == 0 {
		return nil
	}
	first := bytes.TrimSpace(pair[0])
	if bytes.Equal(first, jsonNull) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(first, &v); err != nil {
		return nil
	}
	return &v
}

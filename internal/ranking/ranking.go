// Package ranking orders observations by a metric.
package ranking

import (
	"errors"
	"sort"
	"strings"

	"github.com/hinyari/amedas-ranking-service/internal/models"
)

// ErrNoValidData is returned when no observation carries a value for the ranked metric.
var ErrNoValidData = errors.New("no valid observation data")

// ExcludedStation is never ranked (Mt. Fuji summit).
const ExcludedStation = "富士山"

// Direction selects the sort order.
type Direction string

const (
	Hottest Direction = "hottest"
	Coolest Direction = "coolest"
)

// ParseDirection returns Coolest for "coolest" and Hottest for anything else.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Coolest)) {
		return Coolest
	}
	return Hottest
}

// Metric selects which observation value is ranked.
type Metric string

const (
	MetricTemp          Metric = "temp"
	MetricHumidity      Metric = "humidity"
	MetricPressure      Metric = "pressure"
	MetricWind          Metric = "wind"
	MetricPrecipitation Metric = "precipitation"
)

func (m Metric) value(o models.Observation) *float64 {
	switch m {
	case MetricHumidity:
		return o.Humidity
	case MetricPressure:
		return o.Pressure
	case MetricWind:
		return o.Wind
	case MetricPrecipitation:
		return o.Precipitation
	default:
		return o.Temp
	}
}

// Rank ranks observations by temperature.
func Rank(obs []models.Observation, limit int, dir Direction) ([]models.RankingEntry, error) {
	return RankBy(obs, MetricTemp, limit, dir)
}

// RankBy keeps observations with a value for metric, drops ExcludedStation, sorts
// stably (Hottest descending, Coolest ascending) and returns at most limit entries
// ranked from 1. limit <= 0 returns every valid entry. The entry's Temperature
// field carries the ranked metric's value.
func RankBy(obs []models.Observation, metric Metric, limit int, dir Direction) ([]models.RankingEntry, error) {
	type candidate struct {
		obs   models.Observation
		value float64
	}

	valid := make([]candidate, 0, len(obs))
	for _, o := range obs {
		v := metric.value(o)
		if v == nil || o.StationName == ExcludedStation {
			continue
		}
		valid = append(valid, candidate{obs: o, value: *v})
	}
	if len(valid) == 0 {
		return nil, ErrNoValidData
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if dir == Coolest {
			return valid[i].value < valid[j].value
		}
		return valid[i].value > valid[j].value
	})

	if limit > 0 && limit < len(valid) {
		valid = valid[:limit]
	}

	entries := make([]models.RankingEntry, len(valid))
	for i, c := range valid {
		entries[i] = models.RankingEntry{
			Rank:        i + 1,
			StationName: c.obs.StationName,
			Temperature: c.value,
			Lat:         c.obs.Lat,
			Lon:         c.obs.Lon,
		}
	}
	return entries, nil
}

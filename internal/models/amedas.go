package models

// Station is one AMeDAS observation point from the station table.
// Lat and Lon are decimal degrees.
type Station struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Alt    float64 `json:"alt"`
	KjName string  `json:"kjName"`
	KnName string  `json:"knName"`
	EnName string  `json:"enName"`
}

// Observation holds one station's readings for a single snapshot.
// A nil metric means the station reported no usable value.
type Observation struct {
	StationID     string   `json:"stationId"`
	StationName   string   `json:"stationName"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Temp          *float64 `json:"temp,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"`
	Wind          *float64 `json:"wind,omitempty"`
	Precipitation *float64 `json:"precipitation,omitempty"`
}

// RankingEntry is one row of a temperature ranking.
type RankingEntry struct {
	Rank        int     `json:"rank"`
	StationName string  `json:"stationName"`
	Temperature float64 `json:"temperature"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

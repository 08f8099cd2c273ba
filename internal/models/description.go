package models

// Thumbnail is an optional image attached to a location description.
type Thumbnail struct {
	Source string `json:"source" bson:"source"`
	Width  int    `json:"width" bson:"width"`
	Height int    `json:"height" bson:"height"`
}

// LocationInfo is the descriptive payload cached per location.
type LocationInfo struct {
	Title       string     `json:"title" bson:"title"`
	Extract     string     `json:"extract" bson:"extract"`
	Thumbnail   *Thumbnail `json:"thumbnail,omitempty" bson:"thumbnail,omitempty"`
	URL         string     `json:"url" bson:"url"`
	FoundVia    string     `json:"foundVia,omitempty" bson:"foundVia,omitempty"`
	IsGenerated bool       `json:"isGenerated,omitempty" bson:"isGenerated,omitempty"`
}

// CacheRecord is what the description cache stores under a key.
// Timestamp is the write time in Unix milliseconds.
type CacheRecord struct {
	Info      LocationInfo `json:"info" bson:"info"`
	Timestamp int64        `json:"timestamp" bson:"timestamp"`
}

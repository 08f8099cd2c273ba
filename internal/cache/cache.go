// Package cache stores generated location descriptions keyed by DeriveKey.
// Records never expire.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hinyari/amedas-ranking-service/internal/models"
)

// ErrCacheUnavailable wraps every backend failure. A miss is not an error.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Store is a durable key/value store for description records.
// Get returns (zero, false, nil) on a miss.
type Store interface {
	Get(ctx context.Context, key string) (models.CacheRecord, bool, error)
	Set(ctx context.Context, key string, value models.CacheRecord) error
}

// Pinger is implemented by backends that can report reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// undefinedRegion is the literal some clients send for a missing region.
const undefinedRegion = "undefined"

// NormalizeRegion returns "" for an empty, blank, or "undefined" region and the
// trimmed region otherwise.
func NormalizeRegion(region string) string {
	region = strings.TrimSpace(region)
	if region == undefinedRegion {
		return ""
	}
	return region
}

// DeriveKey builds the cache key for a location. Runs of whitespace become "_"
// and leading or trailing whitespace is dropped. When the region normalizes
// away the key is derived from the city alone.
func DeriveKey(city, region string) string {
	city = underscoreWhitespace(city)
	region = NormalizeRegion(region)
	if region == "" {
		return city
	}
	return city + "_" + underscoreWhitespace(region)
}

func underscoreWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "_")
}

// InMemoryStore implements Store with a process-local map. Safe for concurrent use.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.CacheRecord
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]models.CacheRecord)}
}

// Get implements Store.Get.
func (c *InMemoryStore) Get(ctx context.Context, key string) (models.CacheRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheRecord{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.data[key]
	return rec, ok, nil
}

// Set implements Store.Set. Existing records are replaced.
func (c *InMemoryStore) Set(ctx context.Context, key string, value models.CacheRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

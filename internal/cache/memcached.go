package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/hinyari/amedas-ranking-service/internal/models"
)

const (
	keyPrefix = "desc:"
	// memcached rejects keys over 250 bytes or containing spaces or control characters.
	maxMemcachedKey = 250
)

// MemcachedStore implements Store using memcached. Items are written with
// expiration 0 and live until evicted.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// itemKey prefixes k and hashes it when the result is not a legal memcached key.
func itemKey(k string) string {
	full := keyPrefix + k
	if len(full) <= maxMemcachedKey && legalMemcachedKey(full) {
		return full
	}
	sum := sha256.Sum256([]byte(k))
	return keyPrefix + "sha256:" + hex.EncodeToString(sum[:])
}

func legalMemcachedKey(k string) bool {
	for i := 0; i < len(k); i++ {
		if k[i] <= ' ' || k[i] == 0x7f {
			return false
		}
	}
	return true
}

// Get implements Store.Get.
func (c *MemcachedStore) Get(ctx context.Context, key string) (models.CacheRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheRecord{}, false, err
	}
	item, err := c.client.Get(itemKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.CacheRecord{}, false, nil
		}
		return models.CacheRecord{}, false, fmt.Errorf("%w: memcached get: %v", ErrCacheUnavailable, err)
	}
	var rec models.CacheRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return models.CacheRecord{}, false, fmt.Errorf("%w: parse item: %v", ErrCacheUnavailable, err)
	}
	return rec, true, nil
}

// Set implements Store.Set.
func (c *MemcachedStore) Set(ctx context.Context, key string, value models.CacheRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", ErrCacheUnavailable, err)
	}
	if err := c.client.Set(&memcache.Item{
		Key:        itemKey(key),
		Value:      raw,
		Expiration: 0,
	}); err != nil {
		return fmt.Errorf("%w: memcached set: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedStore) Ping(ctx context.Context) error {
	if err := c.client.Ping(); err != nil {
		return fmt.Errorf("%w: memcached ping: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedStore) Close() error {
	return c.client.Close()
}

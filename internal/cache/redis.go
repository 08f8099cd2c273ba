package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/hinyari/amedas-ranking-service/internal/models"
)

// RedisStore keeps each record as a JSON object at {prefix}{key}.json.
// Writes overwrite unconditionally and never expire.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr. The connection is verified lazily; call Ping to check it.
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreWithClient(client, prefix)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) objectKey(key string) string {
	return s.prefix + key + ".json"
}

// Get implements Store.Get. It lists objects matching the record's object path
// and reads the first match.
func (s *RedisStore) Get(ctx context.Context, key string) (models.CacheRecord, bool, error) {
	objKey, found, err := s.find(ctx, s.objectKey(key))
	if err != nil || !found {
		return models.CacheRecord{}, false, err
	}

	raw, err := s.client.Get(ctx, objKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.CacheRecord{}, false, nil
		}
		return models.CacheRecord{}, false, fmt.Errorf("%w: redis get %s: %v", ErrCacheUnavailable, objKey, err)
	}

	var rec models.CacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.CacheRecord{}, false, fmt.Errorf("%w: parse %s: %v", ErrCacheUnavailable, objKey, err)
	}
	return rec, true, nil
}

func (s *RedisStore) find(ctx context.Context, objKey string) (string, bool, error) {
	iter := s.client.Scan(ctx, 0, escapeGlob(objKey), 100).Iterator()
	if iter.Next(ctx) {
		return iter.Val(), true, nil
	}
	if err := iter.Err(); err != nil {
		return "", false, fmt.Errorf("%w: redis scan %s: %v", ErrCacheUnavailable, objKey, err)
	}
	return "", false, nil
}

// Set implements Store.Set.
func (s *RedisStore) Set(ctx context.Context, key string, value models.CacheRecord) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", ErrCacheUnavailable, err)
	}
	objKey := s.objectKey(key)
	if err := s.client.Set(ctx, objKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %v", ErrCacheUnavailable, objKey, err)
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Close closes the redis client. Call during shutdown.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob makes key match itself literally in a SCAN MATCH pattern.
func escapeGlob(key string) string {
	return globReplacer.Replace(key)
}

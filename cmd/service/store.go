package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hinyari/amedas-ranking-service/internal/cache"
	"github.com/hinyari/amedas-ranking-service/internal/config"
)

const redisPingTimeout = 5 * time.Second

// newStore builds the description cache backend selected by configuration.
// The returned close func is nil for backends without resources to release.
func newStore(cfg *config.Config, logger *zap.Logger) (cache.Store, func(context.Context) error, error) {
	switch cfg.CacheBackend {
	case config.BackendMemory:
		logger.Info("cache backend: memory")
		return cache.NewInMemoryStore(), nil, nil

	case config.BackendFile:
		fs, err := cache.NewFileStore(cfg.CacheFilePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: file", zap.String("path", cfg.CacheFilePath))
		return fs, nil, nil

	case config.BackendRedis:
		rs := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			// the store stays usable; reads miss and writes fail until redis is reachable
			logger.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr), zap.String("prefix", cfg.RedisPrefix))
		return rs, func(context.Context) error { return rs.Close() }, nil

	case config.BackendMemcached:
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, func(context.Context) error { return mc.Close() }, nil

	case config.BackendMongo:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.MongoTimeout)
		defer cancel()
		ms, err := cache.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, cfg.MongoTimeout)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: mongo", zap.String("database", cfg.MongoDatabase), zap.String("collection", cfg.MongoCollection))
		return ms, ms.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

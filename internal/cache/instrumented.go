package cache

import (
	"context"

	"github.com/hinyari/amedas-ranking-service/internal/models"
	"github.com/hinyari/amedas-ranking-service/internal/observability"
)

// Instrumented records hit, miss and error counts for an underlying Store.
type Instrumented struct {
	store   Store
	backend string
}

// WithMetrics wraps store so every operation is counted under the backend label.
func WithMetrics(store Store, backend string) *Instrumented {
	return &Instrumented{store: store, backend: backend}
}

// Get implements Store.Get.
func (i *Instrumented) Get(ctx context.Context, key string) (models.CacheRecord, bool, error) {
	rec, ok, err := i.store.Get(ctx, key)
	switch {
	case err != nil:
		observability.RecordCacheOp(i.backend, "get", "error")
	case ok:
		observability.RecordCacheOp(i.backend, "get", "hit")
	default:
		observability.RecordCacheOp(i.backend, "get", "miss")
	}
	return rec, ok, err
}

// Set implements Store.Set.
func (i *Instrumented) Set(ctx context.Context, key string, value models.CacheRecord) error {
	err := i.store.Set(ctx, key, value)
	if err != nil {
		observability.RecordCacheOp(i.backend, "set", "error")
	} else {
		observability.RecordCacheOp(i.backend, "set", "ok")
	}
	return err
}

// Ping delegates to the wrapped store when it supports health checks.
func (i *Instrumented) Ping(ctx context.Context) error {
	if p, ok := i.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Backend returns the backend label.
func (i *Instrumented) Backend() string {
	return i.backend
}

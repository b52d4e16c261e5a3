package cachemanager

import (
	"context"
	"time"
)

// Loader fetches the value for key on a cache miss.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// ReadThrough answers from a Cache and falls back to a Loader on a miss.
// Only successful loads are cached.
type ReadThrough[K comparable, V any] struct {
	cache Cache[K, V]
	load  Loader[K, V]
	ttl   time.Duration
}

// NewReadThrough caches load's results in cache for ttl.
func NewReadThrough[K comparable, V any](cache Cache[K, V], load Loader[K, V], ttl time.Duration) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{cache: cache, load: load, ttl: ttl}
}

func (r *ReadThrough[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := r.cache.Get(ctx, key); ok {
		return v, nil
	}
	v, err := r.load(ctx, key)
	if err != nil {
		return v, err
	}
	r.cache.Set(ctx, key, v, r.ttl)
	return v, nil
}

// Invalidate drops keys so the next Get loads them again.
func (r *ReadThrough[K, V]) Invalidate(ctx context.Context, keys ...K) error {
	return r.cache.Delete(ctx, keys...)
}

// Purge drops every cached entry.
func (r *ReadThrough[K, V]) Purge(ctx context.Context) error {
	return r.cache.Flush(ctx)
}

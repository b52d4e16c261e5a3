// Package cachemanager provides typed caches in front of slower lookups,
// such as persisted stage records.
package cachemanager

import (
	"context"
	"time"
)

// Cache is a typed key/value cache with per-entry TTLs.
type Cache[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}

// Stats counts lookups since creation.
type Stats struct {
	Hits   uint64
	Misses uint64
}

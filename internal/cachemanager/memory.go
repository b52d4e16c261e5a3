package cachemanager

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/TechDevGroup/obs-impl/internal/log"
)

const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// Memory is a go-cache backed Cache. Keys are string-like so they map onto
// go-cache's string keys without formatting.
type Memory[K ~string, V any] struct {
	name   string
	cache  *gocache.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ Cache[string, int] = (*Memory[string, int])(nil)

// NewMemory returns an empty cache. name labels log lines.
func NewMemory[K ~string, V any](name string, defaultExpiration, cleanupInterval time.Duration) *Memory[K, V] {
	m := &Memory[K, V]{
		name:  name,
		cache: gocache.New(defaultExpiration, cleanupInterval),
	}
	m.cache.OnEvicted(func(key string, _ any) {
		log.Debug(log.CatCache, "cache entry evicted", "cache", name, "key", key)
	})
	return m
}

func (m *Memory[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V
	raw, found := m.cache.Get(string(key))
	if !found {
		m.misses.Add(1)
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		m.misses.Add(1)
		log.Error(log.CatCache, "cached value has the wrong type", "cache", m.name, "key", key)
		return zero, false
	}
	m.hits.Add(1)
	return v, true
}

func (m *Memory[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	m.cache.Set(string(key), value, ttl)
}

func (m *Memory[K, V]) Delete(_ context.Context, keys ...K) error {
	for _, k := range keys {
		m.cache.Delete(string(k))
	}
	return nil
}

func (m *Memory[K, V]) Flush(_ context.Context) error {
	m.cache.Flush()
	log.Debug(log.CatCache, "cache flushed", "cache", m.name)
	return nil
}

// Len counts entries, expired ones included until the janitor runs.
func (m *Memory[K, V]) Len() int { return m.cache.ItemCount() }

// Stats reports hit and miss counts.
func (m *Memory[K, V]) Stats() Stats {
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load()}
}

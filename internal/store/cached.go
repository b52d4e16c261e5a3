package store

import (
	"context"
	"time"

	"github.com/TechDevGroup/obs-impl/internal/cachemanager"
	"github.com/TechDevGroup/obs-impl/internal/record"
)

// Cached serves Get through a read-through cache in front of another store.
// Writes go to the inner store and invalidate the affected names.
type Cached struct {
	inner Store
	cache *cachemanager.Memory[string, record.Record]
	rt    *cachemanager.ReadThrough[string, record.Record]
}

var _ Store = (*Cached)(nil)

// NewCached wraps inner. A zero ttl uses cachemanager.DefaultExpiration.
func NewCached(inner Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = cachemanager.DefaultExpiration
	}
	cache := cachemanager.NewMemory[string, record.Record](
		"stage-records", ttl, cachemanager.DefaultCleanupInterval)
	return &Cached{
		inner: inner,
		cache: cache,
		rt:    cachemanager.NewReadThrough[string, record.Record](cache, inner.Get, ttl),
	}
}

func (c *Cached) List(ctx context.Context) ([]record.Record, error) {
	return c.inner.List(ctx)
}

// Get returns a copy so callers cannot mutate the cached record.
func (c *Cached) Get(ctx context.Context, name string) (record.Record, error) {
	rec, err := c.rt.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (c *Cached) Put(ctx context.Context, rec record.Record) error {
	if err := c.inner.Put(ctx, rec); err != nil {
		return err
	}
	return c.rt.Invalidate(ctx, rec.String(KeyName))
}

func (c *Cached) Delete(ctx context.Context, name string) error {
	if err := c.inner.Delete(ctx, name); err != nil {
		return err
	}
	return c.rt.Invalidate(ctx, name)
}

func (c *Cached) ReplaceAll(ctx context.Context, recs []record.Record) error {
	if err := c.inner.ReplaceAll(ctx, recs); err != nil {
		return err
	}
	return c.rt.Purge(ctx)
}

// Stats reports cache hits and misses for Get.
func (c *Cached) Stats() cachemanager.Stats { return c.cache.Stats() }

func (c *Cached) Close() error {
	_ = c.cache.Flush(context.Background())
	return c.inner.Close()
}

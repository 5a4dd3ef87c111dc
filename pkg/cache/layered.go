package cache

import (
	"context"
	"time"
)

// LayeredCache implements two-level cache (L1: Memory, L2: Redis). Without
// an L2 it behaves as a plain memory cache.
type LayeredCache struct {
	memCache *MemoryCache
	remote   Service
	l1TTL    time.Duration
}

// NewLayeredCache creates a layered cache over remote, which may be nil.
func NewLayeredCache(remote Service, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		L1TTL:         30 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	memOpts := []MemoryOption{WithMemoryMaxSize(cfg.MemoryMaxSize)}
	if cfg.Clock != nil {
		memOpts = append(memOpts, WithMemoryClock(cfg.Clock))
	}
	return &LayeredCache{
		memCache: NewMemoryCache(memOpts...),
		remote:   remote,
		l1TTL:    cfg.L1TTL,
	}
}

func (lc *LayeredCache) l1Expiry(expiration time.Duration) time.Duration {
	if expiration <= 0 || expiration > lc.l1TTL {
		return lc.l1TTL
	}
	return expiration
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if lc.remote == nil {
		return lc.memCache.Set(ctx, key, data, expiration)
	}
	// Write-through: Redis first, then memory
	if err := lc.remote.Set(ctx, key, data, expiration); err != nil {
		return err
	}
	return lc.memCache.Set(ctx, key, data, lc.l1Expiry(expiration))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	// L1: Try memory first
	var data []byte
	if err := lc.memCache.Get(ctx, key, &data); err == nil {
		return decode(data, dest)
	}
	if lc.remote == nil {
		return ErrCacheMiss
	}

	// L2: Try Redis
	if err := lc.remote.Get(ctx, key, &data); err != nil {
		return err
	}

	// Store in memory for next time
	_ = lc.memCache.Set(ctx, key, data, lc.l1TTL)
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	if lc.remote == nil {
		return nil
	}
	return lc.remote.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.memCache.DeleteByPattern(ctx, pattern)
	if lc.remote == nil {
		return nil
	}
	return lc.remote.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.memCache.Exists(ctx, keys...); ok || lc.remote == nil {
		return ok, nil
	}
	return lc.remote.Exists(ctx, keys...)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.memCache.Close()
	if lc.remote == nil {
		return nil
	}
	return lc.remote.Close()
}

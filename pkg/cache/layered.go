package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// LayeredCache fronts a shared remote cache with a short-lived in-process
// copy. Writes go to the remote first; reads promote remote hits locally.
type LayeredCache struct {
	local  *MemoryCache
	remote Service
	l1TTL  time.Duration
}

func NewLayeredCache(remote Service, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{L1TTL: 5 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		local:  NewMemoryCache(append([]MemoryOption{WithMemoryDefaultTTL(cfg.L1TTL)}, cfg.Memory...)...),
		remote: remote,
		l1TTL:  cfg.L1TTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.remote.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	ttl := lc.l1TTL
	if expiration > 0 {
		ttl = min(expiration, lc.l1TTL)
	}
	return lc.local.Set(ctx, key, value, ttl)
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.local.Get(ctx, key, dest); err == nil {
		return nil
	}

	var raw json.RawMessage
	if err := lc.remote.Get(ctx, key, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}
	_ = lc.local.Set(ctx, key, raw, lc.l1TTL)
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.local.Delete(ctx, keys...)
	return lc.remote.Delete(ctx, keys...)
}

// FlushAll clears the local tier even when the remote flush fails.
func (lc *LayeredCache) FlushAll(ctx context.Context) error {
	_ = lc.local.FlushAll(ctx)
	return lc.remote.FlushAll(ctx)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.local.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.remote.Exists(ctx, keys...)
}

func (lc *LayeredCache) Close() error {
	return errors.Join(lc.local.Close(), lc.remote.Close())
}

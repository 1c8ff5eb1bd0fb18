package rbac

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// MemoryCache is a bounded in-process decision cache with per-entry TTL.
type MemoryCache struct {
	entries *expirable.LRU[string, bool]
}

// NewMemoryCache builds a cache holding at most size entries.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{entries: expirable.NewLRU[string, bool](size, nil, ttl)}
}

// Get loads a memoized decision.
func (c *MemoryCache) Get(_ context.Context, key CacheKey) (bool, bool, error) {
	if c == nil {
		return false, false, nil
	}
	allowed, ok := c.entries.Get(key.String())
	return allowed, ok, nil
}

// Put stores a decision.
func (c *MemoryCache) Put(_ context.Context, key CacheKey, allowed bool) error {
	if c == nil {
		return nil
	}
	c.entries.Add(key.String(), allowed)
	return nil
}

// Invalidate drops every entry of the scope.
func (c *MemoryCache) Invalidate(_ context.Context, scope CacheInvalidationScope) error {
	if c == nil {
		return nil
	}
	prefix := scope.prefix()
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
	return nil
}

// InvalidateAll drops every entry.
func (c *MemoryCache) InvalidateAll(context.Context) error {
	if c == nil {
		return nil
	}
	c.entries.Purge()
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// TieredCache reads through a local tier into Redis and writes to both.
type TieredCache struct {
	local  *MemoryCache
	remote *RedisCache
	logger *slog.Logger
}

// NewTieredCache composes the two tiers.
func NewTieredCache(local *MemoryCache, remote *RedisCache, logger *slog.Logger) *TieredCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredCache{local: local, remote: remote, logger: logger}
}

// Get checks the local tier first and backfills it from Redis.
func (c *TieredCache) Get(ctx context.Context, key CacheKey) (bool, bool, error) {
	if allowed, ok, _ := c.local.Get(ctx, key); ok {
		return allowed, true, nil
	}
	allowed, ok, err := c.remote.Get(ctx, key)
	if err != nil || !ok {
		return false, false, err
	}
	_ = c.local.Put(ctx, key, allowed)
	return allowed, true, nil
}

// Put writes through both tiers.
func (c *TieredCache) Put(ctx context.Context, key CacheKey, allowed bool) error {
	_ = c.local.Put(ctx, key, allowed)
	return c.remote.Put(ctx, key, allowed)
}

// Invalidate clears the scope locally, in Redis and on peers.
func (c *TieredCache) Invalidate(ctx context.Context, scope CacheInvalidationScope) error {
	_ = c.local.Invalidate(ctx, scope)
	return c.remote.Invalidate(ctx, scope)
}

// InvalidateAll clears both tiers and peers.
func (c *TieredCache) InvalidateAll(ctx context.Context) error {
	_ = c.local.InvalidateAll(ctx)
	return c.remote.InvalidateAll(ctx)
}

// Listen applies peer invalidations to the local tier until ctx is done.
func (c *TieredCache) Listen(ctx context.Context) error {
	if c.remote == nil || c.remote.client == nil {
		<-ctx.Done()
		return nil
	}
	pubsub := c.remote.client.Subscribe(ctx, InvalidationChannel)
	defer func() { _ = pubsub.Close() }()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.apply(ctx, msg)
		}
	}
}

func (c *TieredCache) apply(ctx context.Context, msg *redis.Message) {
	scope, all, ok := parseInvalidation(c.remote.prefix, msg.Payload)
	if !ok {
		c.logger.Warn("rbac cache: ignoring invalidation", slog.String("payload", msg.Payload))
		return
	}
	if all {
		_ = c.local.InvalidateAll(ctx)
		return
	}
	_ = c.local.Invalidate(ctx, scope)
}

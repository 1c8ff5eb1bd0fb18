package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultCacheTTL bounds how long a memoized decision may be served.
	DefaultCacheTTL = 900 * time.Second
	// DefaultCachePrefix namespaces decision keys in Redis.
	DefaultCachePrefix = "rbac_decision"
	// InvalidationChannel carries scope invalidations to peer processes.
	InvalidationChannel = "rbac.invalidate"

	scanBatch = 200
)

// CheckKind separates permission checks from role checks in the key space.
type CheckKind string

const (
	CheckPermission CheckKind = "permission"
	CheckRole       CheckKind = "role"
)

// CacheInvalidationScope addresses every cached decision of one principal
// inside one company.
type CacheInvalidationScope struct {
	PrincipalID int64 `json:"user_id"`
	CompanyID   int64 `json:"company_id"`
}

func (s CacheInvalidationScope) prefix() string {
	return strconv.FormatInt(s.PrincipalID, 10) + ":" + strconv.FormatInt(s.CompanyID, 10) + ":"
}

// CacheKey identifies one memoized decision.
type CacheKey struct {
	Scope  CacheInvalidationScope
	Kind   CheckKind
	Digest string
}

// NewCacheKey hashes the sorted, deduplicated required set so that
// permutations of the same set share one entry.
func NewCacheKey(scope CacheInvalidationScope, kind CheckKind, required []string) CacheKey {
	set := normalizeSet(required)
	sort.Strings(set)
	sum := sha256.Sum256([]byte(strings.Join(set, "|")))
	return CacheKey{Scope: scope, Kind: kind, Digest: hex.EncodeToString(sum[:])}
}

// String renders principal:company:kind:digest.
func (k CacheKey) String() string {
	return k.Scope.prefix() + string(k.Kind) + ":" + k.Digest
}

// DecisionCache memoizes raw resolver outcomes.
type DecisionCache interface {
	Get(ctx context.Context, key CacheKey) (allowed bool, found bool, err error)
	Put(ctx context.Context, key CacheKey, allowed bool) error
	Invalidate(ctx context.Context, scope CacheInvalidationScope) error
	InvalidateAll(ctx context.Context) error
}

// RedisCache stores decisions in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache instantiates the cache helper. Non-positive ttl falls back to
// DefaultCacheTTL and an empty prefix to DefaultCachePrefix.
func NewRedisCache(client *redis.Client, ttl time.Duration, prefix string) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	return &RedisCache{client: client, ttl: ttl, prefix: prefix}
}

func (c *RedisCache) key(k CacheKey) string {
	return c.prefix + ":" + k.String()
}

// Get loads a memoized decision.
func (c *RedisCache) Get(ctx context.Context, key CacheKey) (bool, bool, error) {
	if c == nil || c.client == nil {
		return false, false, nil
	}
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("rbac cache get: %w", err)
	}
	return val == "1", true, nil
}

// Put stores a decision with the configured TTL.
func (c *RedisCache) Put(ctx context.Context, key CacheKey, allowed bool) error {
	if c == nil || c.client == nil {
		return nil
	}
	val := "0"
	if allowed {
		val = "1"
	}
	if err := c.client.Set(ctx, c.key(key), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("rbac cache put: %w", err)
	}
	return nil
}

// Invalidate removes every decision of the scope and notifies peers.
func (c *RedisCache) Invalidate(ctx context.Context, scope CacheInvalidationScope) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.deleteMatching(ctx, c.prefix+":"+scope.prefix()+"*"); err != nil {
		return err
	}
	return c.publish(ctx, scope.prefix())
}

// InvalidateAll removes every decision under the prefix and notifies peers.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.deleteMatching(ctx, c.prefix+":*"); err != nil {
		return err
	}
	return c.publish(ctx, "*")
}

// deleteMatching collects every matching key before deleting any, since
// deleting under an active SCAN cursor can make the cursor skip keys.
func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) error {
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("rbac cache scan: %w", err)
	}
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		if err := c.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("rbac cache delete: %w", err)
		}
	}
	return nil
}

func (c *RedisCache) publish(ctx context.Context, payload string) error {
	if err := c.client.Publish(ctx, InvalidationChannel, c.prefix+"|"+payload).Err(); err != nil {
		return fmt.Errorf("rbac cache publish: %w", err)
	}
	return nil
}

// parseInvalidation decodes a channel payload into a scope. all is true for a
// clear-all notification.
func parseInvalidation(prefix, payload string) (scope CacheInvalidationScope, all bool, ok bool) {
	owner, body, found := strings.Cut(payload, "|")
	if !found || owner != prefix {
		return scope, false, false
	}
	if body == "*" {
		return scope, true, true
	}
	parts := strings.Split(strings.TrimSuffix(body, ":"), ":")
	if len(parts) != 2 {
		return scope, false, false
	}
	pid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return scope, false, false
	}
	cid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return scope, false, false
	}
	return CacheInvalidationScope{PrincipalID: pid, CompanyID: cid}, false, true
}

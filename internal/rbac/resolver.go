package rbac

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// GrantReader loads the active roles and the union of their permissions for a
// principal inside one company in a single query.
type GrantReader interface {
	PrincipalGrants(ctx context.Context, userID, companyID int64) (Grants, error)
}

// Resolver answers raw permission and role questions, memoizing outcomes in
// the decision cache.
type Resolver struct {
	reader  GrantReader
	cache   DecisionCache
	config  PolicyConfig
	logger  *slog.Logger
	metrics *Metrics
	group   singleflight.Group
}

// NewResolver wires a resolver. cache may be nil to always walk the graph.
func NewResolver(reader GrantReader, cache DecisionCache, config PolicyConfig, logger *slog.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{reader: reader, cache: cache, config: config, logger: logger, metrics: metrics}
}

// HasAnyPermission reports whether the principal's active roles grant at
// least one of the required permissions.
func (r *Resolver) HasAnyPermission(ctx context.Context, p Principal, required []string) (bool, error) {
	return r.check(ctx, CheckPermission, p, required)
}

// HasAnyRole reports whether the principal holds at least one of the
// required roles in their own company.
func (r *Resolver) HasAnyRole(ctx context.Context, p Principal, required []string) (bool, error) {
	return r.check(ctx, CheckRole, p, required)
}

// IsSuperAdmin reports whether the principal holds the SuperAdmin role.
func (r *Resolver) IsSuperAdmin(ctx context.Context, p Principal) (bool, error) {
	return r.check(ctx, CheckRole, p, []string{RoleSuperAdmin})
}

func (r *Resolver) check(ctx context.Context, kind CheckKind, p Principal, required []string) (bool, error) {
	key := NewCacheKey(p.Scope(), kind, required)
	if r.cache != nil {
		allowed, found, err := r.cache.Get(ctx, key)
		switch {
		case err != nil:
			r.metrics.cacheResult(kind, "error")
			r.logger.Warn("rbac cache get", slog.Any("error", err), slog.Int64("user_id", p.ID))
		case found:
			r.metrics.cacheResult(kind, "hit")
			return allowed, nil
		default:
			r.metrics.cacheResult(kind, "miss")
		}
	}

	resultChan := r.group.DoChan(key.String(), func() (interface{}, error) {
		return r.walk(ctx, kind, p, required, key)
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (r *Resolver) walk(ctx context.Context, kind CheckKind, p Principal, required []string, key CacheKey) (bool, error) {
	start := time.Now()
	grants, err := r.reader.PrincipalGrants(ctx, p.ID, p.CompanyID)
	r.metrics.observeWalk(kind, start)
	if err != nil {
		return false, err
	}
	allowed := r.evaluate(kind, grants, required)
	if r.cache != nil {
		if err := r.cache.Put(ctx, key, allowed); err != nil {
			r.logger.Warn("rbac cache put", slog.Any("error", err), slog.Int64("user_id", p.ID))
		}
	}
	return allowed, nil
}

func (r *Resolver) evaluate(kind CheckKind, grants Grants, required []string) bool {
	if r.config.SuperAdminBypass && containsString(grants.Roles, RoleSuperAdmin) {
		if kind == CheckPermission || !r.config.restrictsAny(required) {
			return true
		}
	}
	if kind == CheckPermission {
		return intersects(grants.Permissions, required)
	}
	return intersects(grants.Roles, required)
}

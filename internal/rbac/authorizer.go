package rbac

import (
	"context"
	"log/slog"
	"time"
)

// AuthorizerConfig collects the authorizer dependencies.
type AuthorizerConfig struct {
	Engine  *Engine
	Cache   DecisionCache
	Audit   AuditSink
	Logger  *slog.Logger
	Metrics *Metrics
}

// Authorizer is the entry point callers use for decisions and cache maintenance.
type Authorizer struct {
	engine  *Engine
	cache   DecisionCache
	audit   AuditSink
	logger  *slog.Logger
	metrics *Metrics
	clock   func() time.Time
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(cfg AuthorizerConfig) *Authorizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := cfg.Audit
	if audit == nil {
		audit = LogAuditSink{Logger: logger}
	}
	return &Authorizer{
		engine:  cfg.Engine,
		cache:   cfg.Cache,
		audit:   audit,
		logger:  logger,
		metrics: cfg.Metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Authorize checks that the principal holds any of the required permissions
// or any of the required roles. A nil principal is denied with
// authentication_required first, then malformed permission names are
// rejected before any lookup.
func (a *Authorizer) Authorize(ctx context.Context, principal *Principal, permissions, roles []string) (Decision, error) {
	return a.Check(ctx, Request{Principal: principal, Permissions: permissions, Roles: roles})
}

// Check evaluates a full policy request. On a collaborator failure the
// returned decision denies and the error is non-nil.
func (a *Authorizer) Check(ctx context.Context, req Request) (Decision, error) {
	if req.Principal == nil || req.Principal.ID == 0 {
		d := Deny(ReasonAuthenticationRequired)
		a.record(ctx, req, d)
		return d, nil
	}
	for _, name := range req.Permissions {
		if err := ValidatePermissionName(name); err != nil {
			d := Deny(ReasonInvalidPermissionFormat)
			a.record(ctx, req, d)
			return d, nil
		}
	}
	d, err := a.engine.Evaluate(ctx, req)
	if err != nil {
		a.logger.Error("rbac evaluate", slog.Any("error", err), slog.String("action", string(req.Action)))
	}
	a.record(ctx, req, d)
	return d, err
}

// InvalidatePrincipalCache drops every memoized decision of one principal in
// one company.
func (a *Authorizer) InvalidatePrincipalCache(ctx context.Context, principalID, companyID int64) error {
	if a.cache == nil {
		return nil
	}
	err := a.cache.Invalidate(ctx, CacheInvalidationScope{PrincipalID: principalID, CompanyID: companyID})
	a.metrics.observeInvalidation("principal", err)
	if err != nil {
		a.logger.Warn("rbac invalidate principal cache", slog.Any("error", err),
			slog.Int64("user_id", principalID), slog.Int64("company_id", companyID))
	}
	return err
}

// InvalidateAllCache drops every memoized decision.
func (a *Authorizer) InvalidateAllCache(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	err := a.cache.InvalidateAll(ctx)
	a.metrics.observeInvalidation("all", err)
	if err != nil {
		a.logger.Warn("rbac invalidate all cache", slog.Any("error", err))
	}
	return err
}

func (a *Authorizer) record(ctx context.Context, req Request, d Decision) {
	a.metrics.observeDecision(d)
	if len(req.Permissions) == 0 && len(req.Roles) == 0 && a.engine != nil {
		declared := a.engine.operations.Lookup(req.Resource.Kind, req.Action)
		req.Permissions, req.Roles = declared.Permissions, declared.Roles
	}
	a.audit.Record(ctx, newAuditEvent(req, d, a.clock()))
}

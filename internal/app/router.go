package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

const readinessTimeout = 2 * time.Second

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	Identity    PrincipalLoader
	Authorizer  *rbac.Authorizer
	RBACHandler *rbac.Handler
	JobHandler  *jobs.Handler
	Metrics     *observability.Metrics
	// Ready reports whether the backing stores are reachable.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				if params.Logger != nil {
					params.Logger.Warn("readiness probe", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", err.Error())
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	// Queue stats are operator-only; without identity the routes stay unmounted.
	if params.JobHandler != nil && params.Identity != nil && params.Authorizer != nil {
		guard := rbac.Middleware{Authorizer: params.Authorizer, Logger: params.Logger}
		r.Route("/jobs", func(r chi.Router) {
			r.Use(IdentityMiddleware(params.Identity, params.Logger))
			r.Use(guard.RequireRole(rbac.RoleSuperAdmin))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.RBACHandler != nil {
		r.Route("/rbac", func(r chi.Router) {
			if params.Identity != nil {
				r.Use(IdentityMiddleware(params.Identity, params.Logger))
			}
			params.RBACHandler.MountRoutes(r)
		})
	}

	return r
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// HeaderUserID carries the authenticated user id set by the upstream gateway.
const HeaderUserID = "X-User-ID"

// PrincipalLoader resolves the tenant and active flag of a user.
type PrincipalLoader interface {
	GetUser(ctx context.Context, id int64) (rbac.Principal, error)
}

// IdentityMiddleware attaches the calling principal to the request context.
// Requests without the header continue anonymously and are denied by the
// authorization checks that need a principal.
func IdentityMiddleware(loader PrincipalLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "malformed "+HeaderUserID+" header")
				return
			}
			principal, err := loader.GetUser(r.Context(), id)
			switch {
			case errors.Is(err, rbac.ErrNotFound):
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "unknown principal")
				return
			case err != nil:
				logger.Error("load principal", slog.Int64("user_id", id), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", string(rbac.ReasonUnavailable))
				return
			}
			next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), &principal)))
		})
	}
}

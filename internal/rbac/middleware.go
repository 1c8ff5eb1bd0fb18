package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
}

// RequirePermission ensures the current principal holds at least one of the
// listed permissions. Each argument may itself be a "|" or "," separated list.
func (m Middleware) RequirePermission(perms ...string) func(http.Handler) http.Handler {
	return m.require(ParseList(perms...), nil)
}

// RequireRole ensures the current principal holds at least one of the listed roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return m.require(nil, ParseList(roles...))
}

func (m Middleware) require(perms, roles []string) func(http.Handler) http.Handler {
	if len(perms) == 0 && len(roles) == 0 && m.Logger != nil {
		m.Logger.Warn("rbac middleware without requirements")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 && len(roles) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal := PrincipalFromContext(r.Context())
			d, err := m.Authorizer.Authorize(r.Context(), principal, perms, roles)
			if err != nil && m.Logger != nil {
				m.Logger.Error("rbac middleware", slog.Any("error", err), slog.String("path", r.URL.Path))
			}
			if d.Allow {
				next.ServeHTTP(w, r)
				return
			}
			WriteDenied(w, d)
		})
	}
}

// DecisionStatus maps a denial reason to an HTTP status.
func DecisionStatus(d Decision) int {
	if d.Allow {
		return http.StatusOK
	}
	switch d.Reason {
	case ReasonAuthenticationRequired, ReasonAccountInactive, ReasonInvalidTenant:
		return http.StatusUnauthorized
	case ReasonInvalidPermissionFormat:
		return http.StatusBadRequest
	case ReasonUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

// WriteDenied writes a problem response for a denial.
func WriteDenied(w http.ResponseWriter, d Decision) {
	status := DecisionStatus(d)
	httpx.Problem(w, status, http.StatusText(status), string(d.Reason))
}

package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// Handler exposes the admin API.
type Handler struct {
	logger     *slog.Logger
	authorizer *Authorizer
	service    *Service
	validator  *validator.Validate
	rbac       Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, authorizer *Authorizer, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		authorizer: authorizer,
		service:    service,
		validator:  validator.New(),
		rbac:       Middleware{Authorizer: authorizer, Logger: logger},
	}
}

// MountRoutes registers admin routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/authorize", h.handleAuthorize)
	r.Post("/check", h.handleCheck)
	r.With(h.rbac.RequirePermission("permissions.view")).Get("/permissions", h.listPermissions)
	r.Post("/permissions/crud", h.createCRUDPermissions)
	r.Put("/roles/{roleID}/permissions", h.syncRolePermissions)
	r.Delete("/roles/{roleID}", h.deleteRole)
	r.Post("/users/{userID}/roles", h.assignRole)
	r.Delete("/users/{userID}/roles/{roleID}", h.removeRole)
	r.Post("/cache/invalidate", h.invalidateCache)
	r.Post("/cache/flush", h.flushCache)
}

type authorizeRequest struct {
	Permissions string `json:"permissions"`
	Roles       string `json:"roles"`
}

type checkRequest struct {
	Action      Action   `json:"action" validate:"required"`
	Resource    Resource `json:"resource"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
}

type crudRequest struct {
	Module string `json:"module" validate:"required"`
}

type syncPermissionsRequest struct {
	Permissions   []string `json:"permissions"`
	PermissionIDs []int64  `json:"permission_ids" validate:"dive,gt=0"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type invalidateRequest struct {
	UserID    int64 `json:"user_id" validate:"required_without=All"`
	CompanyID int64 `json:"company_id" validate:"required_without=All"`
	All       bool  `json:"all"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	d, err := h.authorizer.Authorize(r.Context(), PrincipalFromContext(r.Context()), ParseList(req.Permissions), ParseList(req.Roles))
	if err != nil {
		h.logger.Error("rbac authorize endpoint", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.authorizer.Check(r.Context(), Request{
		Principal:   PrincipalFromContext(r.Context()),
		Action:      req.Action,
		Resource:    req.Resource,
		Permissions: ParseList(req.Permissions...),
		Roles:       ParseList(req.Roles...),
	})
	if err != nil {
		h.logger.Error("rbac check endpoint", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) createCRUDPermissions(w http.ResponseWriter, r *http.Request) {
	var req crudRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allow(w, r, ActionCreate, Resource{Kind: ResourcePermission}) {
		return
	}
	created, err := h.service.CreateCRUDPermissions(r.Context(), req.Module)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) syncRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req syncPermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	names, err := ParsePermissionList(req.Permissions...)
	if err != nil {
		WriteDenied(w, Deny(ReasonInvalidPermissionFormat))
		return
	}
	if !h.allow(w, r, ActionAssignPermissions, Resource{Kind: ResourceRole, ID: roleID}) {
		return
	}
	refs := append(PermissionNames(names...), PermissionIDs(req.PermissionIDs...)...)
	result, err := h.service.SyncPermissions(r.Context(), roleID, refs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	if !h.allow(w, r, ActionDelete, Resource{Kind: ResourceRole, ID: roleID}) {
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.allow(w, r, ActionAssignRoles, Resource{Kind: ResourceUser, ID: userID, RoleID: req.RoleID}) {
		return
	}
	var assignedBy *int64
	if p := PrincipalFromContext(r.Context()); p != nil {
		id := p.ID
		assignedBy = &id
	}
	if err := h.service.AssignRole(r.Context(), userID, req.RoleID, assignedBy); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	if !h.allow(w, r, ActionRemoveRole, Resource{Kind: ResourceUser, ID: userID, RoleID: roleID}) {
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, roleID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.All {
		h.flushCache(w, r)
		return
	}
	d, err := h.authorizer.Check(r.Context(), Request{
		Principal: PrincipalFromContext(r.Context()),
		Action:    ActionView,
		Resource:  Resource{Kind: ResourceUser, ID: req.UserID},
		Roles:     []string{RoleSuperAdmin, RoleTenantAdmin},
	})
	if !h.permit(w, d, err) {
		return
	}
	if err := h.authorizer.InvalidatePrincipalCache(r.Context(), req.UserID, req.CompanyID); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) flushCache(w http.ResponseWriter, r *http.Request) {
	d, err := h.authorizer.Authorize(r.Context(), PrincipalFromContext(r.Context()), nil, []string{RoleSuperAdmin})
	if !h.permit(w, d, err) {
		return
	}
	if err := h.authorizer.InvalidateAllCache(r.Context()); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// allow runs a policy check against the operation table and writes the
// denial when it fails.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, action Action, res Resource) bool {
	d, err := h.authorizer.Check(r.Context(), Request{
		Principal: PrincipalFromContext(r.Context()),
		Action:    action,
		Resource:  res,
	})
	return h.permit(w, d, err)
}

func (h *Handler) permit(w http.ResponseWriter, d Decision, err error) bool {
	if err != nil {
		h.logger.Error("rbac admin check", slog.Any("error", err))
	}
	if d.Allow {
		return true
	}
	WriteDenied(w, d)
	return false
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", verrs[0].Field()+" failed "+verrs[0].Tag())
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var kind error
	switch {
	case errors.Is(err, ErrNotFound):
		kind = httpx.ErrNotFound
	case errors.Is(err, ErrDuplicate):
		kind = httpx.ErrDuplicate
	case errors.Is(err, ErrInvalidPermissionFormat), errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrInvalidInput):
		kind = httpx.ErrValidation
	case errors.Is(err, ErrSystemRole), errors.Is(err, ErrCrossTenant):
		kind = httpx.ErrForbidden
	case errors.Is(err, ErrRoleInUse), errors.Is(err, ErrPermissionInUse), errors.Is(err, ErrLastRole),
		errors.Is(err, ErrRoleInactive), errors.Is(err, ErrUserInactive):
		kind = httpx.ErrConflict
	default:
		h.logger.Error("rbac admin", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondError(w, fmt.Errorf("%w: %w", kind, err))
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}

package rbac

import "time"

// Built-in role names. SuperAdmin and TenantAdmin are system roles.
const (
	RoleSuperAdmin  = "SuperAdmin"
	RoleTenantAdmin = "TenantAdmin"
	RoleManager     = "Manager"
	RoleTechnician  = "Technician"
	RoleCustomer    = "Customer"
)

var systemRoleNames = map[string]struct{}{
	RoleSuperAdmin:  {},
	RoleTenantAdmin: {},
}

// IsSystemRoleName reports whether name is a protected system role name.
func IsSystemRoleName(name string) bool {
	_, ok := systemRoleNames[name]
	return ok
}

// Role represents a tenant-scoped permission grouping.
type Role struct {
	ID          int64
	CompanyID   int64
	Name        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsSystem reports whether the role carries system-role protection.
func (r Role) IsSystem() bool {
	return IsSystemRoleName(r.Name)
}

// Permission represents an atomic capability named module.action.
type Permission struct {
	ID          int64
	Name        string
	Description string
	Module      string
	Action      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Level classifies the permission by its action.
func (p Permission) Level() PermissionLevel {
	return LevelOf(p.Action)
}

// Assignment ties a permission to a role.
type Assignment struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// UserRole links a user to a role inside one company.
type UserRole struct {
	UserID     int64
	RoleID     int64
	CompanyID  int64
	AssignedAt time.Time
	AssignedBy *int64
}

// Principal describes the authenticated actor. A zero CompanyID means the
// principal has no resolvable company.
type Principal struct {
	ID        int64 `json:"id"`
	CompanyID int64 `json:"company_id"`
	IsActive  bool  `json:"is_active"`
}

// Scope returns the cache invalidation scope of the principal.
func (p Principal) Scope() CacheInvalidationScope {
	return CacheInvalidationScope{PrincipalID: p.ID, CompanyID: p.CompanyID}
}

// Grants is the resolved view of a principal's active roles and the union of
// their permissions inside one company.
type Grants struct {
	Roles       []string
	Permissions []string
}

// PermissionRef identifies a permission either by name or by id.
type PermissionRef struct {
	id   int64
	name string
}

// PermissionByName references a permission by its module.action name.
func PermissionByName(name string) PermissionRef {
	return PermissionRef{name: name}
}

// PermissionByID references a permission by its primary key.
func PermissionByID(id int64) PermissionRef {
	return PermissionRef{id: id}
}

// ID returns the referenced id when the ref was built by id.
func (r PermissionRef) ID() (int64, bool) {
	return r.id, r.name == "" && r.id > 0
}

// Name returns the referenced name when the ref was built by name.
func (r PermissionRef) Name() (string, bool) {
	return r.name, r.name != ""
}

// PermissionNames wraps names as refs.
func PermissionNames(names ...string) []PermissionRef {
	refs := make([]PermissionRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, PermissionByName(n))
	}
	return refs
}

// PermissionIDs wraps ids as refs.
func PermissionIDs(ids ...int64) []PermissionRef {
	refs := make([]PermissionRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, PermissionByID(id))
	}
	return refs
}

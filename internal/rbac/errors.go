package rbac

import "errors"

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicate indicates a uniqueness constraint violation.
	ErrDuplicate = errors.New("rbac: duplicate")
	// ErrInvalidPermissionFormat indicates a name outside ^[a-z_]+\.[a-z_]+$.
	ErrInvalidPermissionFormat = errors.New("rbac: invalid permission format")
	// ErrUnknownPermission indicates a module or action outside the catalog vocabulary.
	ErrUnknownPermission = errors.New("rbac: permission outside catalog vocabulary")
	// ErrSystemRole indicates a forbidden change to a system role.
	ErrSystemRole = errors.New("rbac: system role is protected")
	// ErrRoleInUse blocks deleting a role that still has users.
	ErrRoleInUse = errors.New("rbac: role has assigned users")
	// ErrPermissionInUse blocks deleting a permission referenced by roles.
	ErrPermissionInUse = errors.New("rbac: permission is referenced by roles")
	// ErrLastRole blocks removing a user's only active role.
	ErrLastRole = errors.New("rbac: cannot remove last role")
	// ErrCrossTenant indicates user and role belong to different companies.
	ErrCrossTenant = errors.New("rbac: cross-tenant assignment")
	// ErrRoleInactive indicates an assignment to a deactivated role.
	ErrRoleInactive = errors.New("rbac: role is inactive")
	// ErrUserInactive indicates an assignment to a deactivated user.
	ErrUserInactive = errors.New("rbac: user is inactive")
	// ErrInvalidInput indicates missing or malformed arguments.
	ErrInvalidInput = errors.New("rbac: invalid input")
)

// Reason is the machine-checkable category attached to every decision.
type Reason string

// Deny reasons.
const (
	ReasonAuthenticationRequired  Reason = "authentication_required"
	ReasonAccountInactive         Reason = "account_inactive"
	ReasonInvalidTenant           Reason = "invalid_tenant_association"
	ReasonCrossTenant             Reason = "cross_tenant_denied"
	ReasonSystemRoleProtected     Reason = "system_role_protected"
	ReasonLastRole                Reason = "last_role_violation"
	ReasonInsufficientPrivilege   Reason = "insufficient_privilege"
	ReasonInvalidPermissionFormat Reason = "invalid_permission_format"
	ReasonSelfActionForbidden     Reason = "self_action_forbidden"
	ReasonResourceNotFound        Reason = "resource_not_found"
	ReasonUnavailable             Reason = "authorization_unavailable"
)

// Allow reasons.
const (
	ReasonGranted          Reason = "granted"
	ReasonSuperAdminBypass Reason = "super_admin_bypass"
	ReasonSelfService      Reason = "self_service"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason Reason `json:"reason"`
}

// Allow builds a positive decision.
func Allow(reason Reason) Decision {
	return Decision{Allow: true, Reason: reason}
}

// Deny builds a negative decision.
func Deny(reason Reason) Decision {
	return Decision{Allow: false, Reason: reason}
}

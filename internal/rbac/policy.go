package rbac

import (
	"context"
	"errors"
)

// PolicyConfig carries the tunable policy switches.
type PolicyConfig struct {
	SuperAdminBypass             bool     `yaml:"super_admin_bypass"`
	RestrictedRolesForSuperAdmin []string `yaml:"super_admin_restricted_roles"`
	// AllowInactiveSelfView lets a deactivated principal view their own user record.
	AllowInactiveSelfView bool `yaml:"allow_inactive_self_view"`
	// SuperAdminCrossTenantRecords extends the SuperAdmin tenant exemption from
	// roles and users to every tenant-scoped record.
	SuperAdminCrossTenantRecords bool `yaml:"super_admin_cross_tenant_records"`
}

// DefaultPolicyConfig returns the production defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{SuperAdminBypass: true, AllowInactiveSelfView: true}
}

func (c PolicyConfig) restrictsAny(roles []string) bool {
	for _, r := range roles {
		if containsString(c.RestrictedRolesForSuperAdmin, r) {
			return true
		}
	}
	return false
}

// Action names an operation on a resource.
type Action string

const (
	ActionView              Action = "view"
	ActionCreate            Action = "create"
	ActionUpdate            Action = "update"
	ActionDelete            Action = "delete"
	ActionForceDelete       Action = "force_delete"
	ActionRestore           Action = "restore"
	ActionAssignPermissions Action = "assign_permissions"
	ActionActivate          Action = "activate"
	ActionClone             Action = "clone"
	ActionExport            Action = "export"
	ActionAssignRoles       Action = "assign_roles"
	ActionRemoveRole        Action = "remove_role"
	ActionImpersonate       Action = "impersonate"
)

// ResourceKind names the type of the target resource.
type ResourceKind string

const (
	ResourceNone       ResourceKind = ""
	ResourceRole       ResourceKind = "role"
	ResourceUser       ResourceKind = "user"
	ResourcePermission ResourceKind = "permission"
	// ResourceRecord is any other tenant-scoped entity; CompanyID must be set.
	ResourceRecord ResourceKind = "record"
)

// Resource describes the target of a request. Roles and users are loaded
// from the store by ID; CompanyID is only trusted for records. RoleID names
// the role being assigned or removed for user role actions, and Name the
// proposed role name on create. Bulk marks role changes issued through the
// bulk endpoints.
type Resource struct {
	Kind      ResourceKind `json:"kind"`
	ID        int64        `json:"id,omitempty"`
	CompanyID int64        `json:"company_id,omitempty"`
	RoleID    int64        `json:"role_id,omitempty"`
	Name      string       `json:"name,omitempty"`
	Bulk      bool         `json:"bulk,omitempty"`
}

// Request is a single authorization question. Permissions and Roles override
// the operation table when set.
type Request struct {
	Principal   *Principal
	Action      Action
	Resource    Resource
	Permissions []string
	Roles       []string
}

// PolicyStore exposes the graph facts the policy rules depend on.
type PolicyStore interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetUser(ctx context.Context, id int64) (Principal, error)
	RoleUserCount(ctx context.Context, roleID int64) (int, error)
	UserRoles(ctx context.Context, userID, companyID int64) ([]Role, error)
}

// Engine evaluates the ordered policy rules and falls through to the
// resolver for the raw check.
type Engine struct {
	resolver   *Resolver
	store      PolicyStore
	config     PolicyConfig
	operations OperationTable
}

// NewEngine constructs the policy engine with the default operation table.
func NewEngine(resolver *Resolver, store PolicyStore, config PolicyConfig) *Engine {
	return &Engine{resolver: resolver, store: store, config: config, operations: DefaultOperations()}
}

// Config returns the policy switches the engine was built with.
func (e *Engine) Config() PolicyConfig {
	return e.config
}

// evaluation holds lazily loaded facts for one request.
type evaluation struct {
	engine      *Engine
	req         Request
	principal   Principal
	superAdmin  bool
	role        *Role
	user        *Principal
	targetRoles []Role
}

// Evaluate runs the rules in order; the first rule that decides wins. A
// non-nil error means a collaborator failed and the decision is a deny.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Decision, error) {
	if req.Principal == nil || req.Principal.ID == 0 {
		return Deny(ReasonAuthenticationRequired), nil
	}
	ev := &evaluation{engine: e, req: req, principal: *req.Principal}
	d, err := ev.run(ctx)
	if err != nil {
		return Deny(ReasonUnavailable), err
	}
	return d, nil
}

func (ev *evaluation) run(ctx context.Context) (Decision, error) {
	p := ev.principal
	self := ev.req.Resource.Kind == ResourceUser && ev.req.Resource.ID == p.ID

	if !p.IsActive {
		if self && ev.req.Action == ActionView && ev.engine.config.AllowInactiveSelfView {
			return Allow(ReasonSelfService), nil
		}
		return Deny(ReasonAccountInactive), nil
	}
	if p.CompanyID == 0 {
		return Deny(ReasonInvalidTenant), nil
	}
	if self {
		switch ev.req.Action {
		case ActionView, ActionUpdate:
			return Allow(ReasonSelfService), nil
		case ActionDelete, ActionForceDelete, ActionActivate, ActionImpersonate:
			return Deny(ReasonSelfActionForbidden), nil
		case ActionAssignRoles, ActionRemoveRole:
			if ev.req.Resource.Bulk {
				return Deny(ReasonSelfActionForbidden), nil
			}
		}
	}

	superAdmin, err := ev.engine.resolver.IsSuperAdmin(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	ev.superAdmin = superAdmin

	if d, done, err := ev.loadResource(ctx); err != nil || done {
		return d, err
	}
	if d, done := ev.tenantIsolation(); done {
		return d, nil
	}
	if d, done, err := ev.systemRoleProtection(ctx); err != nil || done {
		return d, err
	}
	if d, done, err := ev.lastRoleProtection(ctx); err != nil || done {
		return d, err
	}
	return ev.rawCheck(ctx)
}

func (ev *evaluation) loadResource(ctx context.Context) (Decision, bool, error) {
	res := ev.req.Resource
	switch res.Kind {
	case ResourceRole:
		if res.ID == 0 {
			return Decision{}, false, nil
		}
		role, err := ev.engine.store.GetRole(ctx, res.ID)
		if errors.Is(err, ErrNotFound) {
			return Deny(ReasonResourceNotFound), true, nil
		}
		if err != nil {
			return Decision{}, false, err
		}
		ev.role = &role
	case ResourceUser:
		if res.ID == 0 {
			return Decision{}, false, nil
		}
		user, err := ev.engine.store.GetUser(ctx, res.ID)
		if errors.Is(err, ErrNotFound) {
			return Deny(ReasonResourceNotFound), true, nil
		}
		if err != nil {
			return Decision{}, false, err
		}
		ev.user = &user
	}
	return Decision{}, false, nil
}

func (ev *evaluation) resourceCompany() int64 {
	switch {
	case ev.role != nil:
		return ev.role.CompanyID
	case ev.user != nil:
		return ev.user.CompanyID
	case ev.req.Resource.Kind == ResourceRole, ev.req.Resource.Kind == ResourceUser, ev.req.Resource.Kind == ResourceRecord:
		return ev.req.Resource.CompanyID
	}
	return 0
}

func (ev *evaluation) tenantIsolation() (Decision, bool) {
	company := ev.resourceCompany()
	if company == 0 || company == ev.principal.CompanyID {
		return Decision{}, false
	}
	if ev.superAdmin {
		if ev.req.Resource.Kind != ResourceRecord || ev.engine.config.SuperAdminCrossTenantRecords {
			return Decision{}, false
		}
	}
	return Deny(ReasonCrossTenant), true
}

func (ev *evaluation) systemRoleProtection(ctx context.Context) (Decision, bool, error) {
	action := ev.req.Action
	switch ev.req.Resource.Kind {
	case ResourceRole:
		if action == ActionCreate && IsSystemRoleName(ev.req.Resource.Name) && !ev.superAdmin {
			return Deny(ReasonSystemRoleProtected), true, nil
		}
		if ev.role == nil || !ev.role.IsSystem() || !mutatesRole(action) {
			return Decision{}, false, nil
		}
		if !ev.superAdmin || action == ActionForceDelete {
			return Deny(ReasonSystemRoleProtected), true, nil
		}
		if action == ActionDelete {
			n, err := ev.engine.store.RoleUserCount(ctx, ev.role.ID)
			if err != nil {
				return Decision{}, false, err
			}
			if n > 0 {
				return Deny(ReasonSystemRoleProtected), true, nil
			}
		}
	case ResourceUser:
		if ev.user == nil || !mutatesUser(action) {
			return Decision{}, false, nil
		}
		if action == ActionAssignRoles && ev.req.Resource.RoleID != 0 && !ev.superAdmin {
			role, err := ev.engine.store.GetRole(ctx, ev.req.Resource.RoleID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return Decision{}, false, err
			}
			if err == nil && role.IsSystem() {
				return Deny(ReasonSystemRoleProtected), true, nil
			}
		}
		roles, err := ev.loadTargetRoles(ctx)
		if err != nil {
			return Decision{}, false, err
		}
		if !holdsSystemRole(roles) {
			return Decision{}, false, nil
		}
		if !ev.superAdmin || action == ActionDelete || action == ActionForceDelete {
			return Deny(ReasonSystemRoleProtected), true, nil
		}
		if action == ActionImpersonate && holdsRole(roles, RoleSuperAdmin) {
			return Deny(ReasonSystemRoleProtected), true, nil
		}
	}
	return Decision{}, false, nil
}

func (ev *evaluation) lastRoleProtection(ctx context.Context) (Decision, bool, error) {
	if ev.req.Action != ActionRemoveRole || ev.user == nil || ev.req.Resource.RoleID == 0 {
		return Decision{}, false, nil
	}
	roles, err := ev.loadTargetRoles(ctx)
	if err != nil {
		return Decision{}, false, err
	}
	if IsLastActiveRole(roles, ev.req.Resource.RoleID) {
		return Deny(ReasonLastRole), true, nil
	}
	return Decision{}, false, nil
}

// rawCheck grants when the principal holds any required permission or any
// required role.
func (ev *evaluation) rawCheck(ctx context.Context) (Decision, error) {
	perms, roles := ev.req.Permissions, ev.req.Roles
	if len(perms) == 0 && len(roles) == 0 {
		req := ev.engine.operations.Lookup(ev.req.Resource.Kind, ev.req.Action)
		perms, roles = req.Permissions, req.Roles
	}
	if len(perms) == 0 && len(roles) == 0 {
		return Deny(ReasonInsufficientPrivilege), nil
	}
	granted := false
	if len(perms) > 0 {
		ok, err := ev.engine.resolver.HasAnyPermission(ctx, ev.principal, perms)
		if err != nil {
			return Decision{}, err
		}
		granted = ok
	}
	if !granted && len(roles) > 0 {
		ok, err := ev.engine.resolver.HasAnyRole(ctx, ev.principal, roles)
		if err != nil {
			return Decision{}, err
		}
		granted = ok
	}
	if !granted {
		return Deny(ReasonInsufficientPrivilege), nil
	}
	if ev.superAdmin && ev.engine.config.SuperAdminBypass {
		return Allow(ReasonSuperAdminBypass), nil
	}
	return Allow(ReasonGranted), nil
}

func (ev *evaluation) loadTargetRoles(ctx context.Context) ([]Role, error) {
	if ev.targetRoles != nil {
		return ev.targetRoles, nil
	}
	roles, err := ev.engine.store.UserRoles(ctx, ev.user.ID, ev.user.CompanyID)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []Role{}
	}
	ev.targetRoles = roles
	return roles, nil
}

// IsLastActiveRole reports whether roleID is the only active role in roles.
func IsLastActiveRole(roles []Role, roleID int64) bool {
	active := 0
	holds := false
	for _, r := range roles {
		if !r.IsActive {
			continue
		}
		active++
		if r.ID == roleID {
			holds = true
		}
	}
	return holds && active <= 1
}

func holdsSystemRole(roles []Role) bool {
	for _, r := range roles {
		if r.IsActive && r.IsSystem() {
			return true
		}
	}
	return false
}

func holdsRole(roles []Role, name string) bool {
	for _, r := range roles {
		if r.IsActive && r.Name == name {
			return true
		}
	}
	return false
}

func mutatesRole(action Action) bool {
	switch action {
	case ActionUpdate, ActionDelete, ActionForceDelete, ActionAssignPermissions, ActionActivate:
		return true
	}
	return false
}

func mutatesUser(action Action) bool {
	switch action {
	case ActionUpdate, ActionDelete, ActionForceDelete, ActionActivate, ActionAssignRoles, ActionRemoveRole, ActionImpersonate:
		return true
	}
	return false
}

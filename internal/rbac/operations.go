package rbac

// Requirement lists the permissions or roles an operation needs. Either list
// is satisfied by any one of its entries.
type Requirement struct {
	Permissions []string
	Roles       []string
}

// OperationTable maps resource actions to their declared requirements.
type OperationTable map[ResourceKind]map[Action]Requirement

// Lookup returns the requirement for an action; an unknown pair yields an
// empty requirement which the engine treats as default deny.
func (t OperationTable) Lookup(kind ResourceKind, action Action) Requirement {
	if actions, ok := t[kind]; ok {
		return actions[action]
	}
	return Requirement{}
}

func perms(names ...string) Requirement {
	return Requirement{Permissions: names}
}

var superAdminOnly = Requirement{Roles: []string{RoleSuperAdmin}}

// DefaultOperations returns the built-in operation table.
func DefaultOperations() OperationTable {
	return OperationTable{
		ResourceRole: {
			ActionView:              perms("roles.view"),
			ActionCreate:            perms("roles.create"),
			ActionUpdate:            perms("roles.edit"),
			ActionDelete:            perms("roles.delete"),
			ActionForceDelete:       superAdminOnly,
			ActionRestore:           perms("roles.restore"),
			ActionAssignPermissions: perms("roles.manage", "roles.manage_permissions"),
			ActionActivate:          perms("roles.manage"),
			ActionClone:             perms("roles.clone", "roles.create", "roles.manage"),
			ActionExport:            perms("roles.export"),
		},
		ResourceUser: {
			ActionView:        perms("users.view"),
			ActionCreate:      perms("users.create"),
			ActionUpdate:      perms("users.edit"),
			ActionDelete:      perms("users.delete"),
			ActionForceDelete: superAdminOnly,
			ActionRestore:     perms("users.restore"),
			ActionActivate:    perms("users.manage"),
			ActionAssignRoles: perms("users.manage", "users.manage_roles"),
			ActionRemoveRole:  perms("users.manage", "users.manage_roles"),
			ActionExport:      perms("users.export"),
			ActionImpersonate: superAdminOnly,
		},
		ResourcePermission: {
			ActionView:   perms("permissions.view"),
			ActionCreate: perms("permissions.create", "permissions.create_crud"),
			ActionUpdate: perms("permissions.edit"),
			ActionDelete: perms("permissions.delete"),
		},
	}
}

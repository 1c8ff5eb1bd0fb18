package rbac

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var permissionNamePattern = regexp.MustCompile(`^[a-z_]+\.[a-z_]+$`)

var catalogModules = map[string]struct{}{
	"users": {}, "roles": {}, "permissions": {}, "products": {}, "product_categories": {},
	"clients": {}, "services": {}, "invoices": {}, "reports": {}, "settings": {},
	"company": {}, "dashboard": {}, "meters": {}, "payments": {}, "maintenance": {},
}

var catalogActions = map[string]struct{}{
	"view": {}, "create": {}, "edit": {}, "delete": {}, "export": {}, "import": {},
	"manage": {}, "read": {}, "process": {}, "schedule": {}, "dashboard": {},
	"print": {}, "send": {}, "assign": {}, "clone": {}, "restore": {},
	"manage_roles": {}, "manage_permissions": {}, "create_crud": {},
}

var crudActions = []string{"view", "create", "edit", "delete"}

// PermissionLevel groups permissions by how much they can change.
type PermissionLevel string

const (
	LevelBasic        PermissionLevel = "basic"
	LevelIntermediate PermissionLevel = "intermediate"
	LevelAdvanced     PermissionLevel = "advanced"
	LevelSpecial      PermissionLevel = "special"
)

// LevelOf classifies an action.
func LevelOf(action string) PermissionLevel {
	switch action {
	case "view":
		return LevelBasic
	case "create", "edit":
		return LevelIntermediate
	case "delete", "manage", "export":
		return LevelAdvanced
	default:
		return LevelSpecial
	}
}

// ValidatePermissionName checks the module.action pattern only.
func ValidatePermissionName(name string) error {
	if !permissionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPermissionFormat, name)
	}
	return nil
}

// SplitPermissionName validates name against the pattern and the catalog
// vocabulary and returns its parts.
func SplitPermissionName(name string) (module, action string, err error) {
	if err := ValidatePermissionName(name); err != nil {
		return "", "", err
	}
	module, action, _ = strings.Cut(name, ".")
	if _, ok := catalogModules[module]; !ok {
		return "", "", fmt.Errorf("%w: module %q", ErrUnknownPermission, module)
	}
	if _, ok := catalogActions[action]; !ok {
		return "", "", fmt.Errorf("%w: action %q", ErrUnknownPermission, action)
	}
	return module, action, nil
}

// PermissionName composes and validates a catalog name.
func PermissionName(module, action string) (string, error) {
	name := module + "." + action
	if _, _, err := SplitPermissionName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Modules returns the catalog modules in sorted order.
func Modules() []string {
	return sortedKeys(catalogModules)
}

// Actions returns the catalog actions in sorted order.
func Actions() []string {
	return sortedKeys(catalogActions)
}

// CatalogEntry is a seedable permission definition.
type CatalogEntry struct {
	Name        string
	Description string
}

var adminCatalog = []CatalogEntry{
	{"users.manage_roles", "Manage user role assignments"},
	{"users.restore", "Restore deleted users"},
	{"roles.view", "View and list roles"},
	{"roles.create", "Create roles"},
	{"roles.edit", "Edit roles"},
	{"roles.delete", "Delete roles"},
	{"roles.restore", "Restore deleted roles"},
	{"roles.export", "Export roles"},
	{"roles.manage", "Manage role status and permissions"},
	{"roles.manage_permissions", "Manage role permissions"},
	{"roles.clone", "Clone roles"},
	{"permissions.view", "View and list permissions"},
	{"permissions.create", "Create permissions"},
	{"permissions.edit", "Edit permissions"},
	{"permissions.delete", "Delete permissions"},
	{"permissions.create_crud", "Create CRUD permissions for a module"},
	{"product_categories.view", "View product categories"},
	{"product_categories.create", "Create product categories"},
	{"product_categories.edit", "Edit product categories"},
	{"product_categories.delete", "Delete product categories"},
	{"products.import", "Import products"},
	{"company.view", "View company information"},
	{"company.edit", "Edit company information"},
	{"services.assign", "Assign services to technicians"},
	{"invoices.print", "Print invoices"},
	{"invoices.send", "Send invoices by email"},
}

var fullAccessModules = []string{"users", "products", "clients", "services", "invoices", "reports", "settings"}

var defaultRolePermissions = map[string][]string{
	RoleSuperAdmin: append(expand(fullAccessModules, "view", "create", "edit", "delete", "export", "manage"),
		"meters.read", "payments.process", "maintenance.schedule", "dashboard.view"),
	RoleTenantAdmin: append(append(append(
		expand([]string{"users", "products", "clients", "services", "invoices"}, "view", "create", "edit", "delete", "export", "manage"),
		expand([]string{"reports"}, "view", "create", "edit", "export", "manage")...),
		expand([]string{"settings"}, "view", "edit", "manage")...),
		"roles.view", "roles.create", "roles.edit", "roles.delete", "roles.manage", "roles.manage_permissions", "roles.clone",
		"users.manage_roles", "meters.read", "payments.process", "maintenance.schedule", "dashboard.view"),
	RoleManager: append(append(append(
		expand([]string{"users", "products"}, "view", "create", "edit"),
		expand([]string{"clients", "services", "invoices"}, "view", "create", "edit", "export", "manage")...),
		expand([]string{"reports"}, "view", "export", "manage")...),
		"settings.view", "payments.process", "maintenance.schedule", "dashboard.view"),
	RoleTechnician: {
		"clients.view", "services.view", "services.edit", "services.manage",
		"invoices.view", "reports.view", "meters.read", "maintenance.schedule", "dashboard.view",
	},
	RoleCustomer: {"invoices.view", "services.view", "dashboard.view"},
}

// RoleTemplate describes a role created for every company.
type RoleTemplate struct {
	Name        string
	Description string
	Permissions []string
}

// DefaultRoles returns the per-company role templates.
func DefaultRoles() []RoleTemplate {
	descriptions := []struct{ name, desc string }{
		{RoleSuperAdmin, "System administrator with full access"},
		{RoleTenantAdmin, "Company administrator with full access inside the company"},
		{RoleManager, "Manager with access to reports, clients and services"},
		{RoleTechnician, "Technician with access to services, meter readings and maintenance"},
		{RoleCustomer, "Customer with access to their own information and invoices"},
	}
	out := make([]RoleTemplate, 0, len(descriptions))
	for _, d := range descriptions {
		perms := defaultRolePermissions[d.name]
		out = append(out, RoleTemplate{Name: d.name, Description: d.desc, Permissions: append([]string(nil), perms...)})
	}
	return out
}

// Catalog returns every seedable permission, sorted by name.
func Catalog() []CatalogEntry {
	seen := make(map[string]CatalogEntry)
	for _, perms := range defaultRolePermissions {
		for _, name := range perms {
			if _, ok := seen[name]; ok {
				continue
			}
			module, action, _ := strings.Cut(name, ".")
			seen[name] = CatalogEntry{Name: name, Description: describe(module, action)}
		}
	}
	for _, entry := range adminCatalog {
		seen[entry.Name] = entry
	}
	out := make([]CatalogEntry, 0, len(seen))
	for _, entry := range seen {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func describe(module, action string) string {
	module = strings.ReplaceAll(module, "_", " ")
	action = strings.ReplaceAll(action, "_", " ")
	return strings.ToUpper(action[:1]) + action[1:] + " " + module
}

func expand(modules []string, actions ...string) []string {
	out := make([]string, 0, len(modules)*len(actions))
	for _, m := range modules {
		for _, a := range actions {
			out = append(out, m+"."+a)
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

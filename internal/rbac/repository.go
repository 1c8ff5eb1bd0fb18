package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

const pgUniqueViolation = "23505"

// Store is the persistence collaborator used by the service and the engine.
type Store interface {
	GrantReader
	PolicyStore
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListRoles(ctx context.Context, companyID int64) ([]Role, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available inside a transaction.
type TxRepository interface {
	GetUser(ctx context.Context, id int64) (Principal, error)
	LockUser(ctx context.Context, id int64) (Principal, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	LockRole(ctx context.Context, id int64) (Role, error)
	RoleByName(ctx context.Context, companyID int64, name string) (Role, error)
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	RoleUserIDs(ctx context.Context, roleID int64) ([]int64, error)
	PermissionsByName(ctx context.Context, names []string) (map[string]int64, error)
	ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error)
	InsertPermission(ctx context.Context, perm Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	PermissionRoleCount(ctx context.Context, permissionID int64) (int, error)
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	DetachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	UserRoles(ctx context.Context, userID, companyID int64) ([]Role, error)
	InsertUserRole(ctx context.Context, ur UserRole) (bool, error)
	DeleteUserRole(ctx context.Context, userID, roleID, companyID int64) (bool, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: queries{db: pool}}
}

type txRepo struct {
	queries
}

// graphTxOptions runs assignment-graph mutations at read committed. Every
// mutation locks its user or role row first, and the reads that follow the
// lock must see rows committed by the transaction that held it before.
var graphTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx wraps callback in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, graphTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{queries: queries{db: tx}})
	})
}

type queries struct {
	db dbtx
}

const principalGrantsSQL = `
	SELECT r.name, p.name
	FROM user_roles ur
	JOIN roles r ON r.id = ur.role_id AND r.company_id = ur.company_id
	LEFT JOIN role_permissions rp ON rp.role_id = r.id
	LEFT JOIN permissions p ON p.id = rp.permission_id
	WHERE ur.user_id = $1 AND ur.company_id = $2 AND r.is_active`

// PrincipalGrants returns active role names and the union of their
// permissions for a user inside a company.
func (q queries) PrincipalGrants(ctx context.Context, userID, companyID int64) (Grants, error) {
	rows, err := q.db.Query(ctx, principalGrantsSQL, userID, companyID)
	if err != nil {
		return Grants{}, err
	}
	defer rows.Close()
	roles := make(map[string]struct{})
	perms := make(map[string]struct{})
	var grants Grants
	for rows.Next() {
		var role string
		var perm *string
		if err := rows.Scan(&role, &perm); err != nil {
			return Grants{}, err
		}
		if _, ok := roles[role]; !ok {
			roles[role] = struct{}{}
			grants.Roles = append(grants.Roles, role)
		}
		if perm == nil {
			continue
		}
		if _, ok := perms[*perm]; !ok {
			perms[*perm] = struct{}{}
			grants.Permissions = append(grants.Permissions, *perm)
		}
	}
	return grants, rows.Err()
}

const userColumns = `id, company_id, is_active`

func (q queries) GetUser(ctx context.Context, id int64) (Principal, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q queries) LockUser(ctx context.Context, id int64) (Principal, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func scanUser(row pgx.Row) (Principal, error) {
	var p Principal
	var company *int64
	if err := row.Scan(&p.ID, &company, &p.IsActive); err != nil {
		return Principal{}, mapError(err)
	}
	if company != nil {
		p.CompanyID = *company
	}
	return p, nil
}

const roleColumns = `id, company_id, name, description, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Description, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, mapError(err)
	}
	return r, nil
}

func collectRoles(rows pgx.Rows, err error) ([]Role, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
		return scanRole(row)
	})
}

func (q queries) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

func (q queries) LockRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 FOR UPDATE`, id))
}

func (q queries) RoleByName(ctx context.Context, companyID int64, name string) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE company_id = $1 AND name = $2`, companyID, name))
}

// ListRoles returns the roles of a company ordered by name.
func (q queries) ListRoles(ctx context.Context, companyID int64) ([]Role, error) {
	return collectRoles(q.db.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE company_id = $1 ORDER BY name`, companyID))
}

func (q queries) InsertRole(ctx context.Context, role Role) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `
		INSERT INTO roles (company_id, name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING `+roleColumns, role.CompanyID, role.Name, role.Description, role.IsActive))
}

func (q queries) UpdateRole(ctx context.Context, role Role) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, is_active = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns, role.ID, role.Name, role.Description, role.IsActive))
}

func (q queries) DeleteRole(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) RoleUserIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// CompanyIDs lists the tenants that have at least one user.
func (r *Repository) CompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM users WHERE company_id > 0 ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// RoleUserCount counts the user assignments of a role.
func (q queries) RoleUserCount(ctx context.Context, roleID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&n)
	return n, err
}

// UserRoles lists the roles assigned to a user inside a company.
func (q queries) UserRoles(ctx context.Context, userID, companyID int64) ([]Role, error) {
	return collectRoles(q.db.Query(ctx, `
		SELECT r.id, r.company_id, r.name, r.description, r.is_active, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.company_id = $2
		ORDER BY r.name`, userID, companyID))
}

func (q queries) InsertUserRole(ctx context.Context, ur UserRole) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, company_id, assigned_at, assigned_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id, company_id) DO NOTHING`,
		ur.UserID, ur.RoleID, ur.CompanyID, ur.AssignedAt, ur.AssignedBy)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q queries) DeleteUserRole(ctx context.Context, userID, roleID, companyID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2 AND company_id = $3`, userID, roleID, companyID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const permissionColumns = `id, name, description, module, action, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Module, &p.Action, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Permission{}, mapError(err)
	}
	return p, nil
}

// ListPermissions returns all permissions ordered by name.
func (q queries) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := q.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
		return scanPermission(row)
	})
}

func (q queries) PermissionsByName(ctx context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, `SELECT id, name FROM permissions WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

func (q queries) ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `SELECT id FROM permissions WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (q queries) InsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	return scanPermission(q.db.QueryRow(ctx, `
		INSERT INTO permissions (name, description, module, action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING `+permissionColumns, perm.Name, perm.Description, perm.Module, perm.Action))
}

func (q queries) DeletePermission(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) PermissionRoleCount(ctx context.Context, permissionID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, permissionID).Scan(&n)
	return n, err
}

func (q queries) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (q queries) AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, created_at, updated_at)
		SELECT $1, unnest($2::bigint[]), NOW(), NOW()
		ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionIDs)
	return mapError(err)
}

func (q queries) DetachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2)`, roleID, permissionIDs)
	return err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// CacheInvalidator drops memoized decisions after a committed graph write.
type CacheInvalidator interface {
	InvalidatePrincipalCache(ctx context.Context, principalID, companyID int64) error
}

// InvalidationQueue retries invalidations that failed synchronously.
type InvalidationQueue interface {
	EnqueueCacheInvalidation(ctx context.Context, scope CacheInvalidationScope) error
}

// Service orchestrates assignment graph mutations.
type Service struct {
	store       Store
	invalidator CacheInvalidator
	retry       InvalidationQueue
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store, invalidator CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		invalidator: invalidator,
		logger:      logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithRetryQueue sets the queue used when post-commit invalidation fails.
func (s *Service) WithRetryQueue(q InvalidationQueue) *Service {
	s.retry = q
	return s
}

// RoleInput carries mutable role attributes.
type RoleInput struct {
	CompanyID   int64
	Name        string
	Description string
	Permissions []PermissionRef
}

// SyncResult reports the pivot rows changed by a sync.
type SyncResult struct {
	Attached []int64 `json:"attached"`
	Detached []int64 `json:"detached"`
}

// BulkResult partitions the users touched by a bulk operation.
type BulkResult struct {
	Assigned         []int64 `json:"assigned,omitempty"`
	AlreadyAssigned  []int64 `json:"already_assigned,omitempty"`
	Removed          []int64 `json:"removed,omitempty"`
	NotAssigned      []int64 `json:"not_assigned,omitempty"`
	LastRoleRetained []int64 `json:"last_role_retained,omitempty"`
}

// TransferResult reports a role transfer.
type TransferResult struct {
	Moved   []int64 `json:"moved"`
	Kept    []int64 `json:"kept"`
	Skipped []int64 `json:"skipped"`
}

// scopes collects principals whose cached decisions must be dropped.
type scopes map[CacheInvalidationScope]struct{}

func (sc scopes) add(userID, companyID int64) {
	sc[CacheInvalidationScope{PrincipalID: userID, CompanyID: companyID}] = struct{}{}
}

// ListPermissions returns the catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// ListRoles returns a company's roles.
func (s *Service) ListRoles(ctx context.Context, companyID int64) ([]Role, error) {
	return s.store.ListRoles(ctx, companyID)
}

// CreatePermission registers a catalog permission.
func (s *Service) CreatePermission(ctx context.Context, module, action, description string) (Permission, error) {
	module, action = strings.TrimSpace(module), strings.TrimSpace(action)
	name, err := PermissionName(module, action)
	if err != nil {
		return Permission{}, err
	}
	var out Permission
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.PermissionsByName(ctx, []string{name})
		if err != nil {
			return err
		}
		if _, ok := existing[name]; ok {
			return fmt.Errorf("%w: permission %s", ErrDuplicate, name)
		}
		out, err = tx.InsertPermission(ctx, Permission{
			Name:        name,
			Description: strings.TrimSpace(description),
			Module:      module,
			Action:      action,
		})
		return err
	})
	return out, err
}

// CreateCRUDPermissions ensures view, create, edit and delete exist for a
// module and returns the names in that order with their ids.
func (s *Service) CreateCRUDPermissions(ctx context.Context, module string) (map[string]int64, error) {
	module = strings.TrimSpace(module)
	names := make([]string, 0, len(crudActions))
	for _, action := range crudActions {
		name, err := PermissionName(module, action)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	out := make(map[string]int64, len(names))
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.PermissionsByName(ctx, names)
		if err != nil {
			return err
		}
		for i, name := range names {
			if id, ok := existing[name]; ok {
				out[name] = id
				continue
			}
			perm, err := tx.InsertPermission(ctx, Permission{
				Name:        name,
				Description: describe(module, crudActions[i]),
				Module:      module,
				Action:      crudActions[i],
			})
			if err != nil {
				return err
			}
			out[name] = perm.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePermission removes a permission no role references.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.PermissionRoleCount(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrPermissionInUse
		}
		return tx.DeletePermission(ctx, id)
	})
}

// CreateRole inserts a role and its initial permissions.
func (s *Service) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || in.CompanyID == 0 {
		return Role{}, fmt.Errorf("%w: role name and company required", ErrInvalidInput)
	}
	var out Role
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.RoleByName(ctx, in.CompanyID, name); err == nil {
			return fmt.Errorf("%w: role %s", ErrDuplicate, name)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		ids, err := resolveRefs(ctx, tx, in.Permissions)
		if err != nil {
			return err
		}
		out, err = tx.InsertRole(ctx, Role{
			CompanyID:   in.CompanyID,
			Name:        name,
			Description: strings.TrimSpace(in.Description),
			IsActive:    true,
		})
		if err != nil {
			return err
		}
		return tx.AttachPermissions(ctx, out.ID, ids)
	})
	return out, err
}

// UpdateRole changes name and description. System roles keep their name.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrInvalidInput)
	}
	var out Role
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem() && name != role.Name {
			return ErrSystemRole
		}
		if !role.IsSystem() && IsSystemRoleName(name) {
			return ErrSystemRole
		}
		if name != role.Name {
			if _, err := tx.RoleByName(ctx, role.CompanyID, name); err == nil {
				return fmt.Errorf("%w: role %s", ErrDuplicate, name)
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		renamed := name != role.Name
		role.Name = name
		role.Description = strings.TrimSpace(description)
		if out, err = tx.UpdateRole(ctx, role); err != nil {
			return err
		}
		if !renamed {
			return nil
		}
		return collectHolders(ctx, tx, role, affected)
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx, affected)
	return out, nil
}

// SetRoleActive toggles a role. System roles cannot be deactivated.
func (s *Service) SetRoleActive(ctx context.Context, id int64, active bool) (Role, error) {
	var out Role
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem() && !active {
			return ErrSystemRole
		}
		if role.IsActive == active {
			out = role
			return nil
		}
		role.IsActive = active
		if out, err = tx.UpdateRole(ctx, role); err != nil {
			return err
		}
		return collectHolders(ctx, tx, role, affected)
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx, affected)
	return out, nil
}

// DeleteRole removes a custom role without users.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem() {
			return ErrSystemRole
		}
		users, err := tx.RoleUserIDs(ctx, id)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return ErrRoleInUse
		}
		return tx.DeleteRole(ctx, id)
	})
}

// CloneRole copies a role and its permissions into a company. An empty
// newName keeps the source name.
func (s *Service) CloneRole(ctx context.Context, sourceID, targetCompanyID int64, newName string) (Role, error) {
	var out Role
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.GetRole(ctx, sourceID)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(newName)
		if name == "" {
			name = src.Name
		}
		if IsSystemRoleName(name) {
			return ErrSystemRole
		}
		if _, err := tx.RoleByName(ctx, targetCompanyID, name); err == nil {
			return fmt.Errorf("%w: role %s", ErrDuplicate, name)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		ids, err := tx.RolePermissionIDs(ctx, src.ID)
		if err != nil {
			return err
		}
		out, err = tx.InsertRole(ctx, Role{
			CompanyID:   targetCompanyID,
			Name:        name,
			Description: src.Description,
			IsActive:    src.IsActive,
		})
		if err != nil {
			return err
		}
		return tx.AttachPermissions(ctx, out.ID, ids)
	})
	return out, err
}

// GrantPermissions adds permissions to a role, keeping existing ones.
func (s *Service) GrantPermissions(ctx context.Context, roleID int64, refs ...PermissionRef) error {
	return s.mutateRolePermissions(ctx, roleID, func(ctx context.Context, tx TxRepository, role Role) error {
		ids, err := resolveRefs(ctx, tx, refs)
		if err != nil {
			return err
		}
		return tx.AttachPermissions(ctx, role.ID, ids)
	})
}

// RevokePermissions removes permissions from a role.
func (s *Service) RevokePermissions(ctx context.Context, roleID int64, refs ...PermissionRef) error {
	return s.mutateRolePermissions(ctx, roleID, func(ctx context.Context, tx TxRepository, role Role) error {
		ids, err := resolveRefs(ctx, tx, refs)
		if err != nil {
			return err
		}
		return tx.DetachPermissions(ctx, role.ID, ids)
	})
}

// SyncPermissions replaces a role's permission set atomically.
func (s *Service) SyncPermissions(ctx context.Context, roleID int64, refs []PermissionRef) (SyncResult, error) {
	var result SyncResult
	err := s.mutateRolePermissions(ctx, roleID, func(ctx context.Context, tx TxRepository, role Role) error {
		want, err := resolveRefs(ctx, tx, refs)
		if err != nil {
			return err
		}
		have, err := tx.RolePermissionIDs(ctx, role.ID)
		if err != nil {
			return err
		}
		result.Attached, result.Detached = diffIDs(have, want)
		if err := tx.DetachPermissions(ctx, role.ID, result.Detached); err != nil {
			return err
		}
		return tx.AttachPermissions(ctx, role.ID, result.Attached)
	})
	if err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

func (s *Service) mutateRolePermissions(ctx context.Context, roleID int64, fn func(context.Context, TxRepository, Role) error) error {
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, roleID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, role); err != nil {
			return err
		}
		return collectHolders(ctx, tx, role, affected)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, affected)
	return nil
}

// AssignRole grants a role to a user of the same company.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, role, err := lockPair(ctx, tx, userID, roleID)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertUserRole(ctx, s.userRole(user, role, assignedBy))
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: role already assigned", ErrDuplicate)
		}
		affected.add(user.ID, user.CompanyID)
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, affected)
	return nil
}

// RemoveRole revokes a role from a user unless it is their last active role.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		removed, err := removeUserRole(ctx, tx, user, roleID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: role not assigned", ErrNotFound)
		}
		affected.add(user.ID, user.CompanyID)
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, affected)
	return nil
}

// SyncUserRoles replaces a user's roles inside their company.
func (s *Service) SyncUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) (SyncResult, error) {
	want := uniqueIDs(roleIDs)
	if len(want) == 0 {
		return SyncResult{}, ErrLastRole
	}
	var result SyncResult
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		roles := make(map[int64]Role, len(want))
		for _, id := range want {
			role, err := tx.GetRole(ctx, id)
			if err != nil {
				return err
			}
			if role.CompanyID != user.CompanyID {
				return ErrCrossTenant
			}
			roles[id] = role
		}
		held, err := tx.UserRoles(ctx, user.ID, user.CompanyID)
		if err != nil {
			return err
		}
		have := make([]int64, 0, len(held))
		for _, r := range held {
			have = append(have, r.ID)
		}
		result.Attached, result.Detached = diffIDs(have, want)
		for _, id := range result.Attached {
			role := roles[id]
			if !role.IsActive {
				return ErrRoleInactive
			}
			if _, err := tx.InsertUserRole(ctx, s.userRole(user, role, assignedBy)); err != nil {
				return err
			}
		}
		for _, id := range result.Detached {
			if _, err := tx.DeleteUserRole(ctx, user.ID, id, user.CompanyID); err != nil {
				return err
			}
		}
		if !hasActiveRole(roles) {
			return ErrLastRole
		}
		affected.add(user.ID, user.CompanyID)
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	s.invalidate(ctx, affected)
	return result, nil
}

// BulkAssignRole grants a role to many users. Any tenant mismatch aborts the
// whole batch.
func (s *Service) BulkAssignRole(ctx context.Context, roleID int64, userIDs []int64, assignedBy *int64) (BulkResult, error) {
	var result BulkResult
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, roleID)
		if err != nil {
			return err
		}
		if !role.IsActive {
			return ErrRoleInactive
		}
		for _, id := range uniqueIDs(userIDs) {
			user, err := tx.LockUser(ctx, id)
			if err != nil {
				return err
			}
			if user.CompanyID != role.CompanyID {
				return ErrCrossTenant
			}
			inserted, err := tx.InsertUserRole(ctx, s.userRole(user, role, assignedBy))
			if err != nil {
				return err
			}
			if !inserted {
				result.AlreadyAssigned = append(result.AlreadyAssigned, id)
				continue
			}
			result.Assigned = append(result.Assigned, id)
			affected.add(user.ID, user.CompanyID)
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}
	s.invalidate(ctx, affected)
	return result, nil
}

// BulkRemoveRole revokes a role from many users, skipping users for whom it
// is the last active role.
func (s *Service) BulkRemoveRole(ctx context.Context, roleID int64, userIDs []int64) (BulkResult, error) {
	var result BulkResult
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		for _, id := range uniqueIDs(userIDs) {
			user, err := tx.LockUser(ctx, id)
			if errors.Is(err, ErrNotFound) {
				result.NotAssigned = append(result.NotAssigned, id)
				continue
			}
			if err != nil {
				return err
			}
			if user.CompanyID != role.CompanyID {
				return ErrCrossTenant
			}
			removed, err := removeUserRole(ctx, tx, user, role.ID)
			switch {
			case errors.Is(err, ErrLastRole):
				result.LastRoleRetained = append(result.LastRoleRetained, id)
			case err != nil:
				return err
			case removed:
				result.Removed = append(result.Removed, id)
				affected.add(user.ID, user.CompanyID)
			default:
				result.NotAssigned = append(result.NotAssigned, id)
			}
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}
	s.invalidate(ctx, affected)
	return result, nil
}

// TransferRoleUsers moves every holder of one role to another role of the
// same company. With keepExisting the source assignment is retained.
func (s *Service) TransferRoleUsers(ctx context.Context, fromRoleID, toRoleID int64, keepExisting bool, assignedBy *int64) (TransferResult, error) {
	if fromRoleID == toRoleID {
		return TransferResult{}, fmt.Errorf("%w: source and target role are the same", ErrInvalidInput)
	}
	var result TransferResult
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		from, err := tx.LockRole(ctx, fromRoleID)
		if err != nil {
			return err
		}
		to, err := tx.LockRole(ctx, toRoleID)
		if err != nil {
			return err
		}
		if from.CompanyID != to.CompanyID {
			return ErrCrossTenant
		}
		if !to.IsActive {
			return ErrRoleInactive
		}
		userIDs, err := tx.RoleUserIDs(ctx, from.ID)
		if err != nil {
			return err
		}
		for _, id := range userIDs {
			user, err := tx.LockUser(ctx, id)
			if err != nil {
				return err
			}
			if user.CompanyID != to.CompanyID {
				result.Skipped = append(result.Skipped, id)
				continue
			}
			if _, err := tx.InsertUserRole(ctx, s.userRole(user, to, assignedBy)); err != nil {
				return err
			}
			if keepExisting {
				result.Kept = append(result.Kept, id)
			} else {
				if _, err := tx.DeleteUserRole(ctx, user.ID, from.ID, user.CompanyID); err != nil {
					return err
				}
				result.Moved = append(result.Moved, id)
			}
			affected.add(user.ID, user.CompanyID)
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.invalidate(ctx, affected)
	return result, nil
}

func (s *Service) userRole(user Principal, role Role, assignedBy *int64) UserRole {
	return UserRole{
		UserID:     user.ID,
		RoleID:     role.ID,
		CompanyID:  role.CompanyID,
		AssignedAt: s.clock(),
		AssignedBy: assignedBy,
	}
}

// invalidate runs after commit. Failures are queued for retry and never
// surface to the caller since the write already succeeded.
func (s *Service) invalidate(ctx context.Context, affected scopes) {
	if s.invalidator == nil {
		return
	}
	for scope := range affected {
		err := s.invalidator.InvalidatePrincipalCache(ctx, scope.PrincipalID, scope.CompanyID)
		if err == nil {
			continue
		}
		if s.retry == nil {
			s.logger.Error("rbac invalidation lost", slog.Any("error", err), slog.Int64("user_id", scope.PrincipalID))
			continue
		}
		if qerr := s.retry.EnqueueCacheInvalidation(ctx, scope); qerr != nil {
			s.logger.Error("rbac enqueue invalidation", slog.Any("error", qerr), slog.Int64("user_id", scope.PrincipalID))
		}
	}
}

func lockPair(ctx context.Context, tx TxRepository, userID, roleID int64) (Principal, Role, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return Principal{}, Role{}, err
	}
	role, err := tx.GetRole(ctx, roleID)
	if err != nil {
		return Principal{}, Role{}, err
	}
	if user.CompanyID == 0 || user.CompanyID != role.CompanyID {
		return Principal{}, Role{}, ErrCrossTenant
	}
	if !user.IsActive {
		return Principal{}, Role{}, ErrUserInactive
	}
	if !role.IsActive {
		return Principal{}, Role{}, ErrRoleInactive
	}
	return user, role, nil
}

// removeUserRole deletes one assignment of a locked user, refusing to drop
// the last active role.
func removeUserRole(ctx context.Context, tx TxRepository, user Principal, roleID int64) (bool, error) {
	held, err := tx.UserRoles(ctx, user.ID, user.CompanyID)
	if err != nil {
		return false, err
	}
	if IsLastActiveRole(held, roleID) {
		return false, ErrLastRole
	}
	return tx.DeleteUserRole(ctx, user.ID, roleID, user.CompanyID)
}

func collectHolders(ctx context.Context, tx TxRepository, role Role, affected scopes) error {
	users, err := tx.RoleUserIDs(ctx, role.ID)
	if err != nil {
		return err
	}
	for _, id := range users {
		affected.add(id, role.CompanyID)
	}
	return nil
}

// resolveRefs maps refs to canonical ids; any unknown ref fails the call.
func resolveRefs(ctx context.Context, tx TxRepository, refs []PermissionRef) ([]int64, error) {
	var names []string
	var ids []int64
	for _, ref := range refs {
		if name, ok := ref.Name(); ok {
			if err := ValidatePermissionName(name); err != nil {
				return nil, err
			}
			names = append(names, name)
			continue
		}
		id, ok := ref.ID()
		if !ok {
			return nil, fmt.Errorf("%w: empty permission reference", ErrInvalidInput)
		}
		ids = append(ids, id)
	}
	out := make([]int64, 0, len(refs))
	if len(names) > 0 {
		found, err := tx.PermissionsByName(ctx, names)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			id, ok := found[name]
			if !ok {
				return nil, fmt.Errorf("%w: permission %s", ErrNotFound, name)
			}
			out = append(out, id)
		}
	}
	if len(ids) > 0 {
		ids = uniqueIDs(ids)
		found, err := tx.ExistingPermissionIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(found) != len(ids) {
			return nil, fmt.Errorf("%w: permission ids %v", ErrNotFound, missingIDs(ids, found))
		}
		out = append(out, found...)
	}
	return uniqueIDs(out), nil
}

func diffIDs(have, want []int64) (attach, detach []int64) {
	haveSet := make(map[int64]struct{}, len(have))
	for _, id := range have {
		haveSet[id] = struct{}{}
	}
	wantSet := make(map[int64]struct{}, len(want))
	for _, id := range want {
		wantSet[id] = struct{}{}
		if _, ok := haveSet[id]; !ok {
			attach = append(attach, id)
		}
	}
	for _, id := range have {
		if _, ok := wantSet[id]; !ok {
			detach = append(detach, id)
		}
	}
	return attach, detach
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func missingIDs(want, found []int64) []int64 {
	set := make(map[int64]struct{}, len(found))
	for _, id := range found {
		set[id] = struct{}{}
	}
	var out []int64
	for _, id := range want {
		if _, ok := set[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func hasActiveRole(roles map[int64]Role) bool {
	for _, r := range roles {
		if r.IsActive {
			return true
		}
	}
	return false
}

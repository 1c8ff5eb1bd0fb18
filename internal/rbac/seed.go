package rbac

import (
	"context"
	"errors"
	"fmt"
)

// SeedCatalog inserts the catalog permissions that do not exist yet and
// returns how many were created.
func (s *Service) SeedCatalog(ctx context.Context) (int, error) {
	entries := Catalog()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	created := 0
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.PermissionsByName(ctx, names)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if _, ok := existing[e.Name]; ok {
				continue
			}
			module, action, err := SplitPermissionName(e.Name)
			if err != nil {
				return fmt.Errorf("catalog entry %s: %w", e.Name, err)
			}
			if _, err := tx.InsertPermission(ctx, Permission{
				Name:        e.Name,
				Description: e.Description,
				Module:      module,
				Action:      action,
			}); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// SeedCompanyRoles creates the default roles of a company and grants each
// its template permissions. Existing roles keep any extra permissions.
func (s *Service) SeedCompanyRoles(ctx context.Context, companyID int64) (int, error) {
	if companyID <= 0 {
		return 0, fmt.Errorf("%w: company required", ErrInvalidInput)
	}
	created := 0
	affected := scopes{}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, tpl := range DefaultRoles() {
			role, err := tx.RoleByName(ctx, companyID, tpl.Name)
			switch {
			case errors.Is(err, ErrNotFound):
				role, err = tx.InsertRole(ctx, Role{
					CompanyID:   companyID,
					Name:        tpl.Name,
					Description: tpl.Description,
					IsActive:    true,
				})
				if err != nil {
					return err
				}
				created++
			case err != nil:
				return err
			}
			ids, err := resolveRefs(ctx, tx, PermissionNames(tpl.Permissions...))
			if err != nil {
				return fmt.Errorf("role %s: %w", tpl.Name, err)
			}
			if err := tx.AttachPermissions(ctx, role.ID, ids); err != nil {
				return err
			}
			if err := collectHolders(ctx, tx, role, affected); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, affected)
	return created, nil
}

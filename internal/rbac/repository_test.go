package rbac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

const testDatabaseEnv = "AUTHZ_TEST_DATABASE_URL"

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("scan: %w", pgx.ErrNoRows)), ErrNotFound)

	dup := mapError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "roles_company_name_key"})
	assert.ErrorIs(t, dup, ErrDuplicate)
	assert.ErrorContains(t, dup, "roles_company_name_key")

	fk := &pgconn.PgError{Code: "23503", ConstraintName: "user_roles_role_id_fkey"}
	assert.Same(t, fk, mapError(fk))
	assert.Equal(t, errBoom, mapError(errBoom))
}

func TestGraphTransactionsReadCommitted(t *testing.T) {
	assert.Equal(t, pgx.ReadCommitted, graphTxOptions.IsoLevel)
}

// newPostgresRepository migrates a throwaway schema on the database named by
// AUTHZ_TEST_DATABASE_URL and skips when it is unset.
func newPostgresRepository(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv(testDatabaseEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}
	ctx := context.Background()
	schema := "authz_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close(context.Background())
	})

	config, err := db.ParseConfig(dsn, db.PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	config.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migration, err := os.ReadFile("../../migrations/0001_rbac.up.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(migration))
	require.NoError(t, err)
	return NewRepository(pool), pool
}

func insertTestUser(t *testing.T, pool *pgxpool.Pool, companyID int64) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (company_id, is_active) VALUES ($1, TRUE) RETURNING id`, companyID).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestRepositoryConcurrentRemovalKeepsOneRole(t *testing.T) {
	repo, pool := newPostgresRepository(t)
	ctx := context.Background()
	svc := NewService(repo, nil, discardLogger())

	userID := insertTestUser(t, pool, 7)
	first, err := svc.CreateRole(ctx, RoleInput{CompanyID: 7, Name: "Auditor"})
	require.NoError(t, err)
	second, err := svc.CreateRole(ctx, RoleInput{CompanyID: 7, Name: "Dispatcher"})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, userID, first.ID, nil))
	require.NoError(t, svc.AssignRole(ctx, userID, second.ID, nil))

	for round := 0; round < 10; round++ {
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, roleID := range []int64{first.ID, second.ID} {
			wg.Add(1)
			go func(i int, roleID int64) {
				defer wg.Done()
				errs[i] = svc.RemoveRole(ctx, userID, roleID)
			}(i, roleID)
		}
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, ErrLastRole)
				failed++
			}
		}
		assert.Equal(t, 1, failed, "round %d", round)

		held, err := repo.UserRoles(ctx, userID, 7)
		require.NoError(t, err)
		require.Len(t, held, 1, "round %d", round)

		missing := first.ID
		if held[0].ID == first.ID {
			missing = second.ID
		}
		require.NoError(t, svc.AssignRole(ctx, userID, missing, nil))
	}
}

func TestRepositoryGrantsAndConstraints(t *testing.T) {
	repo, pool := newPostgresRepository(t)
	ctx := context.Background()
	userID := insertTestUser(t, pool, 7)

	var role Role
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if role, err = tx.InsertRole(ctx, Role{CompanyID: 7, Name: "Technician", IsActive: true}); err != nil {
			return err
		}
		var ids []int64
		for _, name := range []string{"services.view", "services.edit"} {
			module, action, _ := splitName(name)
			perm, err := tx.InsertPermission(ctx, Permission{Name: name, Module: module, Action: action})
			if err != nil {
				return err
			}
			ids = append(ids, perm.ID)
		}
		if err := tx.AttachPermissions(ctx, role.ID, ids); err != nil {
			return err
		}
		_, err = tx.InsertUserRole(ctx, UserRole{UserID: userID, RoleID: role.ID, CompanyID: 7})
		return err
	})
	require.NoError(t, err)

	grants, err := repo.PrincipalGrants(ctx, userID, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Technician"}, grants.Roles)
	assert.ElementsMatch(t, []string{"services.view", "services.edit"}, grants.Permissions)

	grants, err = repo.PrincipalGrants(ctx, userID, 9)
	require.NoError(t, err)
	assert.Empty(t, grants.Roles)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.InsertRole(ctx, Role{CompanyID: 7, Name: "Technician", IsActive: true})
		return err
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = repo.GetRole(ctx, role.ID+1000)
	assert.ErrorIs(t, err, ErrNotFound)

	rollback := errors.New("rollback")
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.DeleteUserRole(ctx, userID, role.ID, 7); err != nil {
			return err
		}
		return rollback
	})
	require.ErrorIs(t, err, rollback)
	held, err := repo.UserRoles(ctx, userID, 7)
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

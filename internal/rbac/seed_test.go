package rbac

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedCatalogIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, discardLogger())
	ctx := context.Background()

	created, err := svc.SeedCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(Catalog()), created)

	created, err = svc.SeedCatalog(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)

	perms, err := svc.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(Catalog()))
}

func TestSeedCompanyRoles(t *testing.T) {
	store := newMemoryStore()
	inv := &recordingInvalidator{}
	svc := NewService(store, inv, discardLogger())
	ctx := context.Background()
	_, err := svc.SeedCatalog(ctx)
	require.NoError(t, err)

	tech := store.addRole(7, RoleTechnician, true, "meters.export")
	holder := store.addUser(5, 7, true)
	store.assign(holder.ID, tech)

	created, err := svc.SeedCompanyRoles(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultRoles())-1, created)

	roles, err := svc.ListRoles(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, roles, len(DefaultRoles()))

	for _, tpl := range DefaultRoles() {
		var role Role
		for _, r := range roles {
			if r.Name == tpl.Name {
				role = r
			}
		}
		require.NotZero(t, role.ID, tpl.Name)
		want := append([]string(nil), tpl.Permissions...)
		if tpl.Name == RoleTechnician {
			want = append(want, "meters.export")
		}
		sort.Strings(want)
		assert.Equal(t, dedupeSorted(want), store.rolePermissionNames(role.ID), tpl.Name)
	}
	assert.Equal(t, []CacheInvalidationScope{{PrincipalID: holder.ID, CompanyID: 7}}, inv.seen())

	created, err = svc.SeedCompanyRoles(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestSeededTenantAdminManagesCompanyRoles(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, discardLogger())
	ctx := context.Background()
	_, err := svc.SeedCatalog(ctx)
	require.NoError(t, err)
	_, err = svc.SeedCompanyRoles(ctx, 7)
	require.NoError(t, err)

	roles, err := svc.ListRoles(ctx, 7)
	require.NoError(t, err)
	var admin Role
	for _, r := range roles {
		if r.Name == RoleTenantAdmin {
			admin = r
		}
	}
	require.NotZero(t, admin.ID)
	owner := store.addUser(1, 7, true)
	staff := store.addUser(2, 7, true)
	store.assign(owner.ID, admin)
	custom := store.addRole(7, "Auditor", true)

	authz := newTestAuthorizer(store, nil, DefaultPolicyConfig())
	cases := []struct {
		action Action
		res    Resource
	}{
		{ActionView, Resource{Kind: ResourceRole, ID: custom.ID}},
		{ActionCreate, Resource{Kind: ResourceRole, Name: "Inspector"}},
		{ActionUpdate, Resource{Kind: ResourceRole, ID: custom.ID}},
		{ActionDelete, Resource{Kind: ResourceRole, ID: custom.ID}},
		{ActionAssignPermissions, Resource{Kind: ResourceRole, ID: custom.ID}},
		{ActionClone, Resource{Kind: ResourceRole, ID: custom.ID}},
		{ActionAssignRoles, Resource{Kind: ResourceUser, ID: staff.ID, RoleID: custom.ID}},
	}
	for _, tc := range cases {
		d, err := authz.Check(ctx, Request{Principal: &owner, Action: tc.action, Resource: tc.res})
		require.NoError(t, err)
		assert.Equal(t, Allow(ReasonGranted), d, "%s on %s", tc.action, tc.res.Kind)
	}
}

func TestSeedCompanyRolesRequiresCatalog(t *testing.T) {
	svc := NewService(newMemoryStore(), nil, discardLogger())

	_, err := svc.SeedCompanyRoles(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SeedCompanyRoles(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func dedupeSorted(in []string) []string {
	out := in[:0]
	for i, v := range in {
		if i == 0 || v != in[i-1] {
			out = append(out, v)
		}
	}
	return out
}

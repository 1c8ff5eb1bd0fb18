package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// ============================================================================
// MEMORY STORE
// ============================================================================

type userRoleKey struct {
	userID, roleID, companyID int64
}

type memoryState struct {
	users           map[int64]Principal
	roles           map[int64]Role
	permissions     map[int64]Permission
	rolePermissions map[int64]map[int64]struct{}
	userRoles       map[userRoleKey]UserRole
	nextID          int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		users:           make(map[int64]Principal, len(s.users)),
		roles:           make(map[int64]Role, len(s.roles)),
		permissions:     make(map[int64]Permission, len(s.permissions)),
		rolePermissions: make(map[int64]map[int64]struct{}, len(s.rolePermissions)),
		userRoles:       make(map[userRoleKey]UserRole, len(s.userRoles)),
		nextID:          s.nextID,
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	for k, v := range s.permissions {
		out.permissions[k] = v
	}
	for k, set := range s.rolePermissions {
		cp := make(map[int64]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		out.rolePermissions[k] = cp
	}
	for k, v := range s.userRoles {
		out.userRoles[k] = v
	}
	return out
}

type memoryStore struct {
	mu    sync.Mutex
	state memoryState

	grantCalls atomic.Int64

	// Error injection
	grantsErr   error
	getUserErr  error
	txErr       error
	failOnWrite error
	failAfter   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{state: memoryState{
		users:           make(map[int64]Principal),
		roles:           make(map[int64]Role),
		permissions:     make(map[int64]Permission),
		rolePermissions: make(map[int64]map[int64]struct{}),
		userRoles:       make(map[userRoleKey]UserRole),
		nextID:          100,
	}}
}

func (m *memoryStore) addUser(id, companyID int64, active bool) Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Principal{ID: id, CompanyID: companyID, IsActive: active}
	m.state.users[id] = p
	return p
}

func (m *memoryStore) addPermission(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.state.permissions {
		if p.Name == name {
			return id
		}
	}
	m.state.nextID++
	id := m.state.nextID
	module, action, _ := splitName(name)
	m.state.permissions[id] = Permission{ID: id, Name: name, Module: module, Action: action}
	return id
}

func (m *memoryStore) addRole(companyID int64, name string, active bool, perms ...string) Role {
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, m.addPermission(p))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextID++
	role := Role{ID: m.state.nextID, CompanyID: companyID, Name: name, IsActive: active}
	m.state.roles[role.ID] = role
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	m.state.rolePermissions[role.ID] = set
	return role
}

func (m *memoryStore) assign(userID int64, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.userRoles[userRoleKey{userID, role.ID, role.CompanyID}] = UserRole{UserID: userID, RoleID: role.ID, CompanyID: role.CompanyID}
}

func (m *memoryStore) holds(userID, roleID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.state.userRoles {
		if k.userID == userID && k.roleID == roleID {
			return true
		}
	}
	return false
}

func (m *memoryStore) rolePermissionNames(roleID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.state.rolePermissions[roleID] {
		out = append(out, m.state.permissions[id].Name)
	}
	sort.Strings(out)
	return out
}

func splitName(name string) (string, string, bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i], name[i+1:], true
		}
	}
	return name, "", false
}

func (m *memoryStore) PrincipalGrants(_ context.Context, userID, companyID int64) (Grants, error) {
	m.grantCalls.Add(1)
	if m.grantsErr != nil {
		return Grants{}, m.grantsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var g Grants
	seen := map[string]struct{}{}
	for k := range m.state.userRoles {
		if k.userID != userID || k.companyID != companyID {
			continue
		}
		role, ok := m.state.roles[k.roleID]
		if !ok || !role.IsActive || role.CompanyID != companyID {
			continue
		}
		g.Roles = append(g.Roles, role.Name)
		for id := range m.state.rolePermissions[role.ID] {
			name := m.state.permissions[id].Name
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			g.Permissions = append(g.Permissions, name)
		}
	}
	return g, nil
}

func (m *memoryStore) GetRole(ctx context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryTx{state: &m.state}).GetRole(ctx, id)
}

func (m *memoryStore) GetUser(ctx context.Context, id int64) (Principal, error) {
	if m.getUserErr != nil {
		return Principal{}, m.getUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryTx{state: &m.state}).GetUser(ctx, id)
}

func (m *memoryStore) RoleUserCount(ctx context.Context, roleID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, err := (&memoryTx{state: &m.state}).RoleUserIDs(ctx, roleID)
	return len(ids), err
}

func (m *memoryStore) UserRoles(ctx context.Context, userID, companyID int64) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryTx{state: &m.state}).UserRoles(ctx, userID, companyID)
}

func (m *memoryStore) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.state.permissions))
	for _, p := range m.state.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryStore) ListRoles(_ context.Context, companyID int64) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, r := range m.state.roles {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// WithTx runs fn against a copy of the state and publishes it only when fn
// succeeds.
func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	working := m.state.clone()
	tx := &memoryTx{state: &working, failOnWrite: m.failOnWrite, failAfter: m.failAfter}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = working
	return nil
}

// ============================================================================
// MEMORY TX
// ============================================================================

type memoryTx struct {
	state       *memoryState
	failOnWrite error
	failAfter   int
	writes      int
}

// write fails once more than failAfter writes have been made.
func (t *memoryTx) write() error {
	t.writes++
	if t.failOnWrite != nil && t.writes > t.failAfter {
		return t.failOnWrite
	}
	return nil
}

func (t *memoryTx) GetUser(_ context.Context, id int64) (Principal, error) {
	u, ok := t.state.users[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return u, nil
}

func (t *memoryTx) LockUser(ctx context.Context, id int64) (Principal, error) {
	return t.GetUser(ctx, id)
}

func (t *memoryTx) GetRole(_ context.Context, id int64) (Role, error) {
	r, ok := t.state.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (t *memoryTx) LockRole(ctx context.Context, id int64) (Role, error) {
	return t.GetRole(ctx, id)
}

func (t *memoryTx) RoleByName(_ context.Context, companyID int64, name string) (Role, error) {
	for _, r := range t.state.roles {
		if r.CompanyID == companyID && r.Name == name {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (t *memoryTx) InsertRole(_ context.Context, role Role) (Role, error) {
	if err := t.write(); err != nil {
		return Role{}, err
	}
	t.state.nextID++
	role.ID = t.state.nextID
	t.state.roles[role.ID] = role
	t.state.rolePermissions[role.ID] = map[int64]struct{}{}
	return role, nil
}

func (t *memoryTx) UpdateRole(_ context.Context, role Role) (Role, error) {
	if err := t.write(); err != nil {
		return Role{}, err
	}
	if _, ok := t.state.roles[role.ID]; !ok {
		return Role{}, ErrNotFound
	}
	t.state.roles[role.ID] = role
	return role, nil
}

func (t *memoryTx) DeleteRole(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.state.roles[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.roles, id)
	delete(t.state.rolePermissions, id)
	return nil
}

func (t *memoryTx) RoleUserIDs(_ context.Context, roleID int64) ([]int64, error) {
	var out []int64
	for k := range t.state.userRoles {
		if k.roleID == roleID {
			out = append(out, k.userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memoryTx) PermissionsByName(_ context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, p := range t.state.permissions {
		for _, n := range names {
			if p.Name == n {
				out[n] = p.ID
			}
		}
	}
	return out, nil
}

func (t *memoryTx) ExistingPermissionIDs(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if _, ok := t.state.permissions[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertPermission(_ context.Context, perm Permission) (Permission, error) {
	if err := t.write(); err != nil {
		return Permission{}, err
	}
	for _, p := range t.state.permissions {
		if p.Name == perm.Name {
			return Permission{}, ErrDuplicate
		}
	}
	t.state.nextID++
	perm.ID = t.state.nextID
	t.state.permissions[perm.ID] = perm
	return perm, nil
}

func (t *memoryTx) DeletePermission(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.state.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.permissions, id)
	return nil
}

func (t *memoryTx) PermissionRoleCount(_ context.Context, permissionID int64) (int, error) {
	n := 0
	for _, set := range t.state.rolePermissions {
		if _, ok := set[permissionID]; ok {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) RolePermissionIDs(_ context.Context, roleID int64) ([]int64, error) {
	var out []int64
	for id := range t.state.rolePermissions[roleID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memoryTx) AttachPermissions(_ context.Context, roleID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.write(); err != nil {
		return err
	}
	set, ok := t.state.rolePermissions[roleID]
	if !ok {
		set = map[int64]struct{}{}
		t.state.rolePermissions[roleID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return nil
}

func (t *memoryTx) DetachPermissions(_ context.Context, roleID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.write(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(t.state.rolePermissions[roleID], id)
	}
	return nil
}

func (t *memoryTx) UserRoles(_ context.Context, userID, companyID int64) ([]Role, error) {
	var out []Role
	for k := range t.state.userRoles {
		if k.userID == userID && k.companyID == companyID {
			if r, ok := t.state.roles[k.roleID]; ok {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memoryTx) InsertUserRole(_ context.Context, ur UserRole) (bool, error) {
	if err := t.write(); err != nil {
		return false, err
	}
	key := userRoleKey{ur.UserID, ur.RoleID, ur.CompanyID}
	if _, ok := t.state.userRoles[key]; ok {
		return false, nil
	}
	t.state.userRoles[key] = ur
	return true, nil
}

func (t *memoryTx) DeleteUserRole(_ context.Context, userID, roleID, companyID int64) (bool, error) {
	if err := t.write(); err != nil {
		return false, err
	}
	key := userRoleKey{userID, roleID, companyID}
	if _, ok := t.state.userRoles[key]; !ok {
		return false, nil
	}
	delete(t.state.userRoles, key)
	return true, nil
}

// ============================================================================
// INVALIDATION FAKES
// ============================================================================

type recordingInvalidator struct {
	mu     sync.Mutex
	scopes []CacheInvalidationScope
	err    error
}

func (r *recordingInvalidator) InvalidatePrincipalCache(_ context.Context, principalID, companyID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, CacheInvalidationScope{PrincipalID: principalID, CompanyID: companyID})
	return r.err
}

func (r *recordingInvalidator) seen() []CacheInvalidationScope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]CacheInvalidationScope(nil), r.scopes...)
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out
}

type recordingQueue struct {
	scopes []CacheInvalidationScope
}

func (q *recordingQueue) EnqueueCacheInvalidation(_ context.Context, scope CacheInvalidationScope) error {
	q.scopes = append(q.scopes, scope)
	return nil
}

var errBoom = errors.New("boom")

// ============================================================================
// WIRING HELPERS
// ============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestAuthorizer(store *memoryStore, cache DecisionCache, cfg PolicyConfig) *Authorizer {
	resolver := NewResolver(store, cache, cfg, discardLogger(), nil)
	engine := NewEngine(resolver, store, cfg)
	return NewAuthorizer(AuthorizerConfig{Engine: engine, Cache: cache, Logger: discardLogger()})
}

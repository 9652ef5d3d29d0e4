package provision

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-config/meridian/internal/authz"
	"github.com/meridian-config/meridian/internal/platform/lock"
	"github.com/meridian-config/meridian/internal/registry"
	"github.com/meridian-config/meridian/internal/rolekey"
	"github.com/meridian-config/meridian/internal/shared"
)

// memStore is an in-memory authz.Repository whose single struct also serves
// as the transaction-scoped repository.
type memStore struct {
	permissions map[int64]*authz.Permission
	roles       map[int64]*authz.Role
	rolePerms   []*authz.RolePermission
	userRoles   []*authz.UserRole
	nextID      int64
	writes      int
}

func newMemStore() *memStore {
	return &memStore{
		permissions: make(map[int64]*authz.Permission),
		roles:       make(map[int64]*authz.Role),
		nextID:      1,
	}
}

func (m *memStore) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, authz.TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memStore) InsertPermission(ctx context.Context, p authz.Permission) (authz.Permission, error) {
	for _, existing := range m.permissions {
		if existing.Type == p.Type && existing.TargetID == p.TargetID && !existing.Deleted {
			return authz.Permission{}, shared.ErrConflict
		}
	}
	p.ID = m.id()
	copied := p
	m.permissions[p.ID] = &copied
	m.writes++
	return p, nil
}

func (m *memStore) InsertRole(ctx context.Context, r authz.Role) (authz.Role, error) {
	for _, existing := range m.roles {
		if existing.Name == r.Name && !existing.Deleted {
			return authz.Role{}, shared.ErrConflict
		}
	}
	r.ID = m.id()
	copied := r
	m.roles[r.ID] = &copied
	m.writes++
	return r, nil
}

func (m *memStore) InsertRolePermissions(ctx context.Context, joins []authz.RolePermission) error {
	for _, j := range joins {
		j.ID = m.id()
		copied := j
		m.rolePerms = append(m.rolePerms, &copied)
		m.writes++
	}
	return nil
}

func (m *memStore) InsertUserRoles(ctx context.Context, joins []authz.UserRole) error {
	for _, j := range joins {
		j.ID = m.id()
		copied := j
		m.userRoles = append(m.userRoles, &copied)
		m.writes++
	}
	return nil
}

func (m *memStore) SoftDeleteUserRoles(ctx context.Context, roleID int64, userIDs []string, operator string) error {
	for _, ur := range m.userRoles {
		if ur.RoleID != roleID {
			continue
		}
		for _, uid := range userIDs {
			if ur.UserID == uid {
				ur.Deleted = true
				break
			}
		}
	}
	return nil
}

func (m *memStore) SoftDeletePermissions(ctx context.Context, ids []int64, operator string) error {
	for _, id := range ids {
		if p, ok := m.permissions[id]; ok {
			p.Deleted = true
		}
	}
	return nil
}

func (m *memStore) SoftDeleteRolePermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64, operator string) error {
	for _, rp := range m.rolePerms {
		for _, id := range permissionIDs {
			if rp.PermissionID == id {
				rp.Deleted = true
				break
			}
		}
	}
	return nil
}

func (m *memStore) SoftDeleteRoles(ctx context.Context, ids []int64, operator string) error {
	for _, id := range ids {
		if r, ok := m.roles[id]; ok {
			r.Deleted = true
		}
	}
	return nil
}

func (m *memStore) SoftDeleteUserRolesByRoleIDs(ctx context.Context, roleIDs []int64, operator string) error {
	for _, ur := range m.userRoles {
		for _, id := range roleIDs {
			if ur.RoleID == id {
				ur.Deleted = true
				break
			}
		}
	}
	return nil
}

func (m *memStore) SoftDeleteConsumerRolesByRoleIDs(ctx context.Context, roleIDs []int64, operator string) error {
	return nil
}

func (m *memStore) FindRoleByName(ctx context.Context, roleName string) (*authz.Role, error) {
	for _, r := range m.roles {
		if r.Name == roleName && !r.Deleted {
			copied := *r
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memStore) FindRolesByIDs(ctx context.Context, ids []int64) ([]authz.Role, error) {
	var out []authz.Role
	for _, id := range ids {
		if r, ok := m.roles[id]; ok && !r.Deleted {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) FindPermission(ctx context.Context, permissionType rolekey.PermissionType, targetID string) (*authz.Permission, error) {
	for _, p := range m.permissions {
		if p.Type == permissionType && p.TargetID == targetID && !p.Deleted {
			copied := *p
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memStore) FindPermissionsByTypesAndTarget(ctx context.Context, permissionTypes []rolekey.PermissionType, targetID string) ([]authz.Permission, error) {
	var out []authz.Permission
	for _, p := range m.permissions {
		if p.TargetID != targetID || p.Deleted {
			continue
		}
		for _, t := range permissionTypes {
			if p.Type == t {
				out = append(out, *p)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) FindUserRolesByUserID(ctx context.Context, userID string) ([]authz.UserRole, error) {
	var out []authz.UserRole
	for _, ur := range m.userRoles {
		if ur.UserID == userID && !ur.Deleted {
			out = append(out, *ur)
		}
	}
	return out, nil
}

func (m *memStore) FindUserRolesByRoleID(ctx context.Context, roleID int64) ([]authz.UserRole, error) {
	var out []authz.UserRole
	for _, ur := range m.userRoles {
		if ur.RoleID == roleID && !ur.Deleted {
			out = append(out, *ur)
		}
	}
	return out, nil
}

func (m *memStore) FindUserRolesByUserIDsAndRoleID(ctx context.Context, userIDs []string, roleID int64) ([]authz.UserRole, error) {
	var out []authz.UserRole
	for _, ur := range m.userRoles {
		if ur.RoleID != roleID || ur.Deleted {
			continue
		}
		for _, uid := range userIDs {
			if ur.UserID == uid {
				out = append(out, *ur)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) FindRolePermissionsByRoleIDs(ctx context.Context, roleIDs []int64) ([]authz.RolePermission, error) {
	var out []authz.RolePermission
	for _, rp := range m.rolePerms {
		if rp.Deleted {
			continue
		}
		for _, id := range roleIDs {
			if rp.RoleID == id {
				out = append(out, *rp)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) FindPermissionIDsByAppID(ctx context.Context, appID string) ([]int64, error) {
	var ids []int64
	for _, p := range m.permissions {
		if p.Deleted {
			continue
		}
		if p.TargetID == appID || strings.HasPrefix(p.TargetID, appID+rolekey.Separator) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (m *memStore) FindPermissionIDsByAppIDAndNamespace(ctx context.Context, appID, namespaceName string) ([]int64, error) {
	target := rolekey.NamespaceScope(appID, namespaceName).TargetID()
	var ids []int64
	for _, p := range m.permissions {
		if p.Deleted {
			continue
		}
		if p.TargetID == target || strings.HasPrefix(p.TargetID, target+rolekey.Separator) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (m *memStore) FindRoleIDsByAppID(ctx context.Context, appID string) ([]int64, error) {
	return nil, nil
}

func (m *memStore) FindRoleIDsByAppIDAndNamespace(ctx context.Context, appID, namespaceName string) ([]int64, error) {
	return nil, nil
}

type staticEnvs []string

func (s staticEnvs) SupportedEnvs() []string { return s }

type noAdmins struct{}

func (noAdmins) SuperAdmins() []string { return nil }

func newTestLocker(t *testing.T) *lock.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.NewLocker(client, time.Second, 5*time.Millisecond)
}

func newTestService(t *testing.T, store *memStore, envs ...string) *Service {
	t.Helper()
	if len(envs) == 0 {
		envs = []string{"DEV", "PRO"}
	}
	authzService := authz.NewService(store, noAdmins{}, slog.Default())
	return NewService(authzService, staticEnvs(envs), newTestLocker(t), slog.Default(), nil)
}

func testApp() registry.App {
	return registry.App{
		AppID:     "orders",
		Name:      "Orders",
		OrgID:     "retail",
		OwnerName: "alice",
		CreatedBy: "bob",
	}
}

func TestInitAppRoles(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	require.NoError(t, svc.InitAppRoles(ctx, testApp()))

	for _, roleName := range []string{
		rolekey.AppMasterRoleName("orders"),
		rolekey.ManageAppMasterRoleName("orders"),
		rolekey.RoleName(rolekey.RoleModifyNamespace, rolekey.DefaultNamespaceScope("orders")),
		rolekey.RoleName(rolekey.RoleReleaseNamespace, rolekey.DefaultNamespaceScope("orders")),
		rolekey.RoleName(rolekey.RoleModifyNamespace, rolekey.EnvScope("orders", rolekey.DefaultNamespace, "DEV")),
		rolekey.RoleName(rolekey.RoleReleaseNamespace, rolekey.EnvScope("orders", rolekey.DefaultNamespace, "PRO")),
	} {
		_, err := store.FindRoleByName(ctx, roleName)
		require.NoError(t, err, "expected role %s", roleName)
	}

	// The owner holds the master role, the creating operator holds modify and
	// release on the default namespace.
	master, err := store.FindRoleByName(ctx, rolekey.AppMasterRoleName("orders"))
	require.NoError(t, err)
	owners, err := store.FindUserRolesByRoleID(ctx, master.ID)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "alice", owners[0].UserID)

	modify, err := store.FindRoleByName(ctx, rolekey.RoleName(rolekey.RoleModifyNamespace, rolekey.DefaultNamespaceScope("orders")))
	require.NoError(t, err)
	holders, err := store.FindUserRolesByRoleID(ctx, modify.ID)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, "bob", holders[0].UserID)
}

func TestInitAppRolesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	require.NoError(t, svc.InitAppRoles(ctx, testApp()))
	writes := store.writes

	require.NoError(t, svc.InitAppRoles(ctx, testApp()))
	assert.Equal(t, writes, store.writes, "a second run must not write anything")
}

func TestInitNamespaceRolesFinishesPartialRun(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	scope := rolekey.NamespaceScope("orders", "pricing")
	modifyName := rolekey.RoleName(rolekey.RoleModifyNamespace, scope)
	_, err := store.InsertRole(ctx, authz.Role{Name: modifyName})
	require.NoError(t, err)
	writes := store.writes

	require.NoError(t, svc.InitNamespaceRoles(ctx, "orders", "pricing", "admin"))

	// The missing release role was created, the existing modify role kept.
	_, err = store.FindRoleByName(ctx, rolekey.RoleName(rolekey.RoleReleaseNamespace, scope))
	require.NoError(t, err)
	assert.Greater(t, store.writes, writes)

	writes = store.writes
	require.NoError(t, svc.InitNamespaceRoles(ctx, "orders", "pricing", "admin"))
	assert.Equal(t, writes, store.writes)
}

func TestInitNamespaceRolesReusesOrphanPermission(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	// An earlier run committed the permission but died before its role.
	scope := rolekey.NamespaceScope("orders", "pricing")
	orphan, err := store.InsertPermission(ctx, authz.Permission{
		Type:     rolekey.PermModifyNamespace,
		TargetID: scope.TargetID(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.InitNamespaceRoles(ctx, "orders", "pricing", "admin"))

	role, err := store.FindRoleByName(ctx, rolekey.RoleName(rolekey.RoleModifyNamespace, scope))
	require.NoError(t, err)
	joins, err := store.FindRolePermissionsByRoleIDs(ctx, []int64{role.ID})
	require.NoError(t, err)
	require.Len(t, joins, 1)
	assert.Equal(t, orphan.ID, joins[0].PermissionID)

	_, err = store.FindRoleByName(ctx, rolekey.RoleName(rolekey.RoleReleaseNamespace, scope))
	require.NoError(t, err)
}

func TestInitAppRolesReusesOrphanPermission(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	orphan, err := store.InsertPermission(ctx, authz.Permission{
		Type:     rolekey.PermCreateNamespace,
		TargetID: "orders",
	})
	require.NoError(t, err)

	require.NoError(t, svc.InitAppRoles(ctx, testApp()))

	master, err := store.FindRoleByName(ctx, rolekey.AppMasterRoleName("orders"))
	require.NoError(t, err)
	joins, err := store.FindRolePermissionsByRoleIDs(ctx, []int64{master.ID})
	require.NoError(t, err)
	require.Len(t, joins, 3)
	ids := make([]int64, 0, len(joins))
	for _, j := range joins {
		ids = append(ids, j.PermissionID)
	}
	assert.Contains(t, ids, orphan.ID)
}

func TestInitManageAppMasterRoleReusesOrphanPermission(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	orphan, err := store.InsertPermission(ctx, authz.Permission{
		Type:     rolekey.PermManageAppMaster,
		TargetID: "orders",
	})
	require.NoError(t, err)

	require.NoError(t, svc.InitManageAppMasterRole(ctx, "orders", "admin"))

	role, err := store.FindRoleByName(ctx, rolekey.ManageAppMasterRoleName("orders"))
	require.NoError(t, err)
	joins, err := store.FindRolePermissionsByRoleIDs(ctx, []int64{role.ID})
	require.NoError(t, err)
	require.Len(t, joins, 1)
	assert.Equal(t, orphan.ID, joins[0].PermissionID)
}

func TestInitNamespaceSpecificEnvRoles(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	require.NoError(t, svc.InitNamespaceSpecificEnvRoles(ctx, "orders", "pricing", "UAT", "admin"))

	scope := rolekey.EnvScope("orders", "pricing", "UAT")
	for _, roleType := range []rolekey.RoleType{rolekey.RoleModifyNamespace, rolekey.RoleReleaseNamespace} {
		role, err := store.FindRoleByName(ctx, rolekey.RoleName(roleType, scope))
		require.NoError(t, err)
		joins, err := store.FindRolePermissionsByRoleIDs(ctx, []int64{role.ID})
		require.NoError(t, err)
		require.Len(t, joins, 1)
	}
	perm, err := store.FindPermission(ctx, rolekey.PermModifyNamespace, scope.TargetID())
	require.NoError(t, err)
	assert.Equal(t, "orders+pricing+UAT", perm.TargetID)
}

func TestInitCreateAppRole(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	require.NoError(t, svc.InitCreateAppRole(ctx))

	role, err := store.FindRoleByName(ctx, rolekey.CreateApplicationRoleName())
	require.NoError(t, err)
	perm, err := store.FindPermission(ctx, rolekey.PermCreateApplication, rolekey.SystemTargetID)
	require.NoError(t, err)
	joins, err := store.FindRolePermissionsByRoleIDs(ctx, []int64{role.ID})
	require.NoError(t, err)
	require.Len(t, joins, 1)
	assert.Equal(t, perm.ID, joins[0].PermissionID)

	writes := store.writes
	require.NoError(t, svc.InitCreateAppRole(ctx))
	assert.Equal(t, writes, store.writes)
}

func TestInitCreateAppRoleReusesOrphanPermission(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	orphan, err := store.InsertPermission(ctx, authz.Permission{
		Type:     rolekey.PermCreateApplication,
		TargetID: rolekey.SystemTargetID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.InitCreateAppRole(ctx))

	role, err := store.FindRoleByName(ctx, rolekey.CreateApplicationRoleName())
	require.NoError(t, err)
	joins, err := store.FindRolePermissionsByRoleIDs(ctx, []int64{role.ID})
	require.NoError(t, err)
	require.Len(t, joins, 1)
	assert.Equal(t, orphan.ID, joins[0].PermissionID)
}

func TestInitManageAppMasterRole(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)

	require.NoError(t, svc.InitManageAppMasterRole(ctx, "orders", "admin"))

	role, err := store.FindRoleByName(ctx, rolekey.ManageAppMasterRoleName("orders"))
	require.NoError(t, err)
	joins, err := store.FindRolePermissionsByRoleIDs(ctx, []int64{role.ID})
	require.NoError(t, err)
	require.Len(t, joins, 1)

	writes := store.writes
	require.NoError(t, svc.InitManageAppMasterRole(ctx, "orders", "admin"))
	assert.Equal(t, writes, store.writes)
}

// Package provision creates the roles and permissions for a scope exactly
// once and grants initial ownership. Every entry point checks for existing
// state before creating, so a re-invocation after a partial failure converges
// to the same end state.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-config/meridian/internal/authz"
	"github.com/meridian-config/meridian/internal/observability"
	"github.com/meridian-config/meridian/internal/platform/lock"
	"github.com/meridian-config/meridian/internal/registry"
	"github.com/meridian-config/meridian/internal/rolekey"
	"github.com/meridian-config/meridian/internal/shared"
)

// systemOperator is recorded as creator on rows provisioned without a user
// context, such as the global create-application role.
const systemOperator = "meridian"

// EnvRegistry lists the deployment environments the portal manages.
type EnvRegistry interface {
	SupportedEnvs() []string
}

// Service provisions roles and permissions for applications, namespaces and
// (namespace, environment) pairs.
type Service struct {
	store   *authz.Service
	envs    EnvRegistry
	locker  *lock.Locker
	logger  *slog.Logger
	metrics *observability.Metrics

	// group collapses concurrent in-process provisioning of the same app;
	// across processes the store's unique role_name constraint turns a lost
	// race into a conflict instead of silent duplication.
	group singleflight.Group
}

// NewService constructs a Service.
func NewService(store *authz.Service, envs EnvRegistry, locker *lock.Locker, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{store: store, envs: envs, locker: locker, logger: logger, metrics: metrics}
}

// InitAppRoles provisions the full role set for a new application: the
// app-master role and its grants, the manage-app-master pair, and the
// default namespace roles across all environments. Calling it again for an
// already provisioned application is a no-op.
func (s *Service) InitAppRoles(ctx context.Context, app registry.App) error {
	_, err, _ := s.group.Do(app.AppID, func() (any, error) {
		return nil, s.initAppRoles(ctx, app)
	})
	return err
}

func (s *Service) initAppRoles(ctx context.Context, app registry.App) error {
	appID := app.AppID
	masterRoleName := rolekey.AppMasterRoleName(appID)

	if existing, err := s.store.FindRoleByName(ctx, masterRoleName); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	} else if existing != nil {
		return nil
	}

	operator := app.CreatedBy

	if err := s.createAppMasterRole(ctx, appID, operator); err != nil {
		return err
	}
	if err := s.createManageAppMasterRole(ctx, appID, operator); err != nil {
		return err
	}

	if _, err := s.store.AssignRoleToUsers(ctx, masterRoleName, []string{app.OwnerName}, operator); err != nil {
		return err
	}

	if err := s.InitNamespaceRoles(ctx, appID, rolekey.DefaultNamespace, operator); err != nil {
		return err
	}
	if err := s.InitNamespaceEnvRoles(ctx, appID, rolekey.DefaultNamespace, operator); err != nil {
		return err
	}

	// The creating operator gets modify and release on the default
	// namespace; the declared owner got the master role above.
	defaultScope := rolekey.DefaultNamespaceScope(appID)
	for _, roleType := range []rolekey.RoleType{rolekey.RoleModifyNamespace, rolekey.RoleReleaseNamespace} {
		roleName := rolekey.RoleName(roleType, defaultScope)
		if _, err := s.store.AssignRoleToUsers(ctx, roleName, []string{operator}, operator); err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("app roles provisioned", slog.String("app", appID), slog.String("operator", operator))
	}
	s.metrics.ObserveProvision("app")
	return nil
}

// InitNamespaceRoles provisions the modify and release roles for one
// namespace. Each role is checked independently, so a partially completed
// earlier call is finished rather than failed.
func (s *Service) InitNamespaceRoles(ctx context.Context, appID, namespaceName, operator string) error {
	scope := rolekey.NamespaceScope(appID, namespaceName)

	for _, grant := range []struct {
		roleType       rolekey.RoleType
		permissionType rolekey.PermissionType
	}{
		{rolekey.RoleModifyNamespace, rolekey.PermModifyNamespace},
		{rolekey.RoleReleaseNamespace, rolekey.PermReleaseNamespace},
	} {
		roleName := rolekey.RoleName(grant.roleType, scope)
		existing, err := s.store.FindRoleByName(ctx, roleName)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.createScopedRole(ctx, scope, grant.permissionType, roleName, operator); err != nil {
			return err
		}
		s.metrics.ObserveProvision("namespace")
	}
	return nil
}

// InitNamespaceEnvRoles provisions the environment-scoped namespace roles for
// every configured deployment environment.
func (s *Service) InitNamespaceEnvRoles(ctx context.Context, appID, namespaceName, operator string) error {
	for _, env := range s.envs.SupportedEnvs() {
		if err := s.InitNamespaceSpecificEnvRoles(ctx, appID, namespaceName, env, operator); err != nil {
			return err
		}
	}
	return nil
}

// InitNamespaceSpecificEnvRoles provisions the modify and release roles for
// one (namespace, environment) pair.
func (s *Service) InitNamespaceSpecificEnvRoles(ctx context.Context, appID, namespaceName, env, operator string) error {
	scope := rolekey.EnvScope(appID, namespaceName, env)

	for _, grant := range []struct {
		roleType       rolekey.RoleType
		permissionType rolekey.PermissionType
	}{
		{rolekey.RoleModifyNamespace, rolekey.PermModifyNamespace},
		{rolekey.RoleReleaseNamespace, rolekey.PermReleaseNamespace},
	} {
		roleName := rolekey.RoleName(grant.roleType, scope)
		existing, err := s.store.FindRoleByName(ctx, roleName)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.createScopedRole(ctx, scope, grant.permissionType, roleName, operator); err != nil {
			return err
		}
		s.metrics.ObserveProvision("namespace_env")
	}
	return nil
}

// InitCreateAppRole provisions the single global role granting application
// creation, targeted at the system sentinel. Idempotent by existence check.
func (s *Service) InitCreateAppRole(ctx context.Context) error {
	roleName := rolekey.CreateApplicationRoleName()
	existing, err := s.store.FindRoleByName(ctx, roleName)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if existing != nil {
		return nil
	}

	permission, err := s.ensurePermission(ctx, rolekey.PermCreateApplication, rolekey.SystemTargetID,
		authz.Audit{CreatedBy: systemOperator, ModifiedBy: systemOperator})
	if err != nil {
		return err
	}

	_, err = s.store.CreateRoleWithPermissions(ctx, authz.Role{
		Name:  roleName,
		Audit: authz.Audit{CreatedBy: systemOperator, ModifiedBy: systemOperator},
	}, []int64{permission.ID})
	return err
}

// ensurePermission returns the permission for (type, target), creating it only
// when absent. A permission left behind by an earlier provisioning run that
// failed before its role was created is picked up here, so retries converge
// instead of tripping over the unique constraint.
func (s *Service) ensurePermission(ctx context.Context, permissionType rolekey.PermissionType, targetID string, audit authz.Audit) (authz.Permission, error) {
	existing, err := s.store.FindPermission(ctx, permissionType, targetID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return authz.Permission{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	return s.store.CreatePermission(ctx, authz.Permission{
		Type:     permissionType,
		TargetID: targetID,
		Audit:    audit,
	})
}

// InitManageAppMasterRole back-fills the manage-app-master pair for
// applications provisioned before it existed. It is invoked from multiple
// uncoordinated call sites, so the check-then-create runs under a mutual
// exclusion lease keyed by application id.
func (s *Service) InitManageAppMasterRole(ctx context.Context, appID, operator string) error {
	roleName := rolekey.ManageAppMasterRoleName(appID)
	existing, err := s.store.FindRoleByName(ctx, roleName)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if existing != nil {
		return nil
	}

	lease, err := s.locker.Acquire(ctx, shared.ProvisionLockKey(appID))
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil && s.logger != nil {
			s.logger.Warn("release provision lock", slog.String("app", appID), slog.Any("error", err))
		}
	}()

	// Re-check under the lock: another holder may have completed the
	// back-fill while we waited.
	existing, err = s.store.FindRoleByName(ctx, roleName)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.createManageAppMasterRole(ctx, appID, operator)
}

// createAppMasterRole creates the application's master role holding the
// create-cluster, create-namespace and assign-role permissions. Permissions
// committed by an earlier run that died before the role insert are reused.
func (s *Service) createAppMasterRole(ctx context.Context, appID, operator string) error {
	audit := authz.Audit{CreatedBy: operator, ModifiedBy: operator}
	types := []rolekey.PermissionType{
		rolekey.PermCreateCluster,
		rolekey.PermCreateNamespace,
		rolekey.PermAssignRole,
	}
	permissionIDs := make([]int64, 0, len(types))
	for _, t := range types {
		permission, err := s.ensurePermission(ctx, t, appID, audit)
		if err != nil {
			return err
		}
		permissionIDs = append(permissionIDs, permission.ID)
	}

	_, err := s.store.CreateRoleWithPermissions(ctx, authz.Role{
		Name:  rolekey.AppMasterRoleName(appID),
		Audit: audit,
	}, permissionIDs)
	return err
}

func (s *Service) createManageAppMasterRole(ctx context.Context, appID, operator string) error {
	audit := authz.Audit{CreatedBy: operator, ModifiedBy: operator}
	permission, err := s.ensurePermission(ctx, rolekey.PermManageAppMaster, appID, audit)
	if err != nil {
		return err
	}
	_, err = s.store.CreateRoleWithPermissions(ctx, authz.Role{
		Name:  rolekey.ManageAppMasterRoleName(appID),
		Audit: audit,
	}, []int64{permission.ID})
	return err
}

// createScopedRole makes sure the permission scoped to the given target
// exists and creates a role wrapping exactly that permission.
func (s *Service) createScopedRole(ctx context.Context, scope rolekey.Scope, permissionType rolekey.PermissionType, roleName, operator string) error {
	audit := authz.Audit{CreatedBy: operator, ModifiedBy: operator}
	permission, err := s.ensurePermission(ctx, permissionType, scope.TargetID(), audit)
	if err != nil {
		return fmt.Errorf("provision %s for %s: %w", permissionType, scope.TargetID(), err)
	}
	_, err = s.store.CreateRoleWithPermissions(ctx, authz.Role{Name: roleName, Audit: audit}, []int64{permission.ID})
	if err != nil {
		return fmt.Errorf("provision role %s: %w", roleName, err)
	}
	return nil
}

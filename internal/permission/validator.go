// Package permission is the stateless decision engine. Its predicates layer
// scoped checks as a lattice: an app- or namespace-wide grant always
// satisfies a narrower environment-specific check, never the other way
// around. Predicates do not fail; unresolvable state denies.
package permission

import (
	"context"
	"log/slog"

	"github.com/meridian-config/meridian/internal/namespace"
	"github.com/meridian-config/meridian/internal/observability"
	"github.com/meridian-config/meridian/internal/rolekey"
)

// Checker resolves scoped permission grants for a user.
type Checker interface {
	UserHasPermission(ctx context.Context, userID string, permissionType rolekey.PermissionType, targetID string) (bool, error)
	IsSuperAdmin(userID string) bool
}

// UserHolder yields the authenticated user for the current request.
type UserHolder interface {
	CurrentUser(ctx context.Context) string
}

// PortalConfig exposes the portal settings the decision engine consults.
type PortalConfig interface {
	CanAppAdminCreatePrivateNamespace() bool
	IsConfigViewMemberOnly(env string) bool
}

// NamespaceFinder resolves namespace records for the visibility gate.
type NamespaceFinder interface {
	FindByAppIDAndName(ctx context.Context, appID, name string) (*namespace.AppNamespace, error)
}

// Validator evaluates access decisions for the current user.
type Validator struct {
	users      UserHolder
	checker    Checker
	portal     PortalConfig
	namespaces NamespaceFinder
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewValidator constructs a Validator.
func NewValidator(users UserHolder, checker Checker, portal PortalConfig, namespaces NamespaceFinder, logger *slog.Logger, metrics *observability.Metrics) *Validator {
	return &Validator{
		users:      users,
		checker:    checker,
		portal:     portal,
		namespaces: namespaces,
		logger:     logger,
		metrics:    metrics,
	}
}

// has evaluates one scoped grant for the current user, failing closed on any
// error.
func (v *Validator) has(ctx context.Context, permissionType rolekey.PermissionType, targetID string) bool {
	userID := v.users.CurrentUser(ctx)
	if userID == "" {
		return false
	}
	ok, err := v.checker.UserHasPermission(ctx, userID, permissionType, targetID)
	if err != nil {
		if v.logger != nil {
			v.logger.Error("permission check failed",
				slog.String("permission", string(permissionType)),
				slog.String("target", targetID),
				slog.Any("error", err))
		}
		return false
	}
	return ok
}

func (v *Validator) observe(predicate string, allowed bool) bool {
	v.metrics.ObserveDecision(predicate, allowed)
	return allowed
}

// HasModifyNamespacePermission reports a direct modify grant at
// (app, namespace).
func (v *Validator) HasModifyNamespacePermission(ctx context.Context, appID, namespaceName string) bool {
	return v.observe("modify_namespace",
		v.has(ctx, rolekey.PermModifyNamespace, rolekey.NamespaceScope(appID, namespaceName).TargetID()))
}

// HasModifyNamespacePermissionForEnv widens the scope-less check with a
// direct grant at (app, namespace, env).
func (v *Validator) HasModifyNamespacePermissionForEnv(ctx context.Context, appID, namespaceName, env string) bool {
	return v.observe("modify_namespace_env",
		v.has(ctx, rolekey.PermModifyNamespace, rolekey.NamespaceScope(appID, namespaceName).TargetID()) ||
			v.has(ctx, rolekey.PermModifyNamespace, rolekey.EnvScope(appID, namespaceName, env).TargetID()))
}

// HasReleaseNamespacePermission reports a direct release grant at
// (app, namespace).
func (v *Validator) HasReleaseNamespacePermission(ctx context.Context, appID, namespaceName string) bool {
	return v.observe("release_namespace",
		v.has(ctx, rolekey.PermReleaseNamespace, rolekey.NamespaceScope(appID, namespaceName).TargetID()))
}

// HasReleaseNamespacePermissionForEnv widens the scope-less check with a
// direct grant at (app, namespace, env).
func (v *Validator) HasReleaseNamespacePermissionForEnv(ctx context.Context, appID, namespaceName, env string) bool {
	return v.observe("release_namespace_env",
		v.has(ctx, rolekey.PermReleaseNamespace, rolekey.NamespaceScope(appID, namespaceName).TargetID()) ||
			v.has(ctx, rolekey.PermReleaseNamespace, rolekey.EnvScope(appID, namespaceName, env).TargetID()))
}

// HasOperateNamespacePermission reports either a modify or a release grant on
// the namespace.
func (v *Validator) HasOperateNamespacePermission(ctx context.Context, appID, namespaceName string) bool {
	return v.HasModifyNamespacePermission(ctx, appID, namespaceName) ||
		v.HasReleaseNamespacePermission(ctx, appID, namespaceName)
}

// HasOperateNamespacePermissionForEnv applies the same widening rule to the
// combined operate check.
func (v *Validator) HasOperateNamespacePermissionForEnv(ctx context.Context, appID, namespaceName, env string) bool {
	return v.HasOperateNamespacePermission(ctx, appID, namespaceName) ||
		v.HasModifyNamespacePermissionForEnv(ctx, appID, namespaceName, env) ||
		v.HasReleaseNamespacePermissionForEnv(ctx, appID, namespaceName, env)
}

// HasAssignRolePermission reports the app-scoped assign-role grant.
func (v *Validator) HasAssignRolePermission(ctx context.Context, appID string) bool {
	return v.observe("assign_role", v.has(ctx, rolekey.PermAssignRole, appID))
}

// HasCreateNamespacePermission reports the app-scoped create-namespace grant.
func (v *Validator) HasCreateNamespacePermission(ctx context.Context, appID string) bool {
	return v.observe("create_namespace", v.has(ctx, rolekey.PermCreateNamespace, appID))
}

// HasCreateClusterPermission reports the app-scoped create-cluster grant.
func (v *Validator) HasCreateClusterPermission(ctx context.Context, appID string) bool {
	return v.observe("create_cluster", v.has(ctx, rolekey.PermCreateCluster, appID))
}

// HasDeleteNamespacePermission allows app admins and super-admins to delete
// namespaces.
func (v *Validator) HasDeleteNamespacePermission(ctx context.Context, appID string) bool {
	return v.HasAssignRolePermission(ctx, appID) || v.IsSuperAdmin(ctx)
}

// HasCreateAppNamespacePermission decides whether the current user may create
// the candidate namespace. Public namespaces, and private ones when the
// portal permits app admins to create them, defer to the create-namespace
// grant; otherwise only a super-admin may create it.
func (v *Validator) HasCreateAppNamespacePermission(ctx context.Context, appID string, ns namespace.AppNamespace) bool {
	if v.portal.CanAppAdminCreatePrivateNamespace() || ns.IsPublic {
		return v.HasCreateNamespacePermission(ctx, appID)
	}
	return v.IsSuperAdmin(ctx)
}

// IsAppAdmin reports whether the current user administers the application.
func (v *Validator) IsAppAdmin(ctx context.Context, appID string) bool {
	return v.IsSuperAdmin(ctx) || v.HasAssignRolePermission(ctx, appID)
}

// IsSuperAdmin reports whether the current user is on the configured
// allow-list.
func (v *Validator) IsSuperAdmin(ctx context.Context) bool {
	return v.checker.IsSuperAdmin(v.users.CurrentUser(ctx))
}

// HasCreateApplicationPermission reports the global create-application grant
// for the current user.
func (v *Validator) HasCreateApplicationPermission(ctx context.Context) bool {
	return v.HasCreateApplicationPermissionForUser(ctx, v.users.CurrentUser(ctx))
}

// HasCreateApplicationPermissionForUser reports the global create-application
// grant for the given user.
func (v *Validator) HasCreateApplicationPermissionForUser(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	ok, err := v.checker.UserHasPermission(ctx, userID, rolekey.PermCreateApplication, rolekey.SystemTargetID)
	if err != nil {
		if v.logger != nil {
			v.logger.Error("create application check failed", slog.Any("error", err))
		}
		return false
	}
	return v.observe("create_application", ok)
}

// HasManageAppMasterPermission reports whether the current user may manage
// the application's master assignments. The manage-app-master pair might not
// be back-filled yet, so the super-admin override is checked first.
func (v *Validator) HasManageAppMasterPermission(ctx context.Context, appID string) bool {
	return v.IsSuperAdmin(ctx) ||
		v.observe("manage_app_master", v.has(ctx, rolekey.PermManageAppMaster, appID))
}

// ShouldHideConfigToCurrentUser gates config visibility. Config is visible
// unless the environment is member-only; public namespaces stay open to
// everyone; otherwise it is hidden from users who neither administer the app
// nor hold any operate permission on the namespace in that environment.
func (v *Validator) ShouldHideConfigToCurrentUser(ctx context.Context, appID, env, namespaceName string) bool {
	if !v.portal.IsConfigViewMemberOnly(env) {
		return false
	}

	ns, err := v.namespaces.FindByAppIDAndName(ctx, appID, namespaceName)
	if err == nil && ns != nil && ns.IsPublic {
		return false
	}

	return !v.IsAppAdmin(ctx, appID) && !v.HasOperateNamespacePermissionForEnv(ctx, appID, namespaceName, env)
}

// Package rolekey encodes and decodes the composite identifiers used by the
// authorization core: role names and permission target ids. A role name joins
// [roleType, appId, namespace?, env?] with "+", a target id joins
// [appId, namespace?, env?]. Absent trailing parts are omitted, never emitted
// as empty segments. The delimited strings are a serialization boundary only;
// code should pass Scope values around.
package rolekey

import "strings"

// Separator joins the ordered parts of role names and target ids. It must not
// change: stored role names encode it.
const Separator = "+"

const (
	// DefaultNamespace is the namespace every application starts with.
	DefaultNamespace = "application"
	// SystemTargetID is the sentinel target for permissions that are not
	// scoped to any application.
	SystemTargetID = "SYSTEM"
)

// RoleType identifies the semantic kind of a role.
type RoleType string

const (
	RoleMaster           RoleType = "Master"
	RoleModifyNamespace  RoleType = "ModifyNamespace"
	RoleReleaseNamespace RoleType = "ReleaseNamespace"
)

// Valid reports whether t is a recognized role type token.
func (t RoleType) Valid() bool {
	switch t {
	case RoleMaster, RoleModifyNamespace, RoleReleaseNamespace:
		return true
	}
	return false
}

// PermissionType identifies an operation a permission grants.
type PermissionType string

const (
	PermCreateApplication PermissionType = "CreateApplication"
	PermCreateNamespace   PermissionType = "CreateNamespace"
	PermCreateCluster     PermissionType = "CreateCluster"
	PermAssignRole        PermissionType = "AssignRole"
	PermModifyNamespace   PermissionType = "ModifyNamespace"
	PermReleaseNamespace  PermissionType = "ReleaseNamespace"
	PermManageAppMaster   PermissionType = "ManageAppMaster"
)

// Valid reports whether p is a recognized permission type token.
func (p PermissionType) Valid() bool {
	switch p {
	case PermCreateApplication, PermCreateNamespace, PermCreateCluster,
		PermAssignRole, PermModifyNamespace, PermReleaseNamespace,
		PermManageAppMaster:
		return true
	}
	return false
}

// Scope identifies what a permission or role governs: an application,
// optionally narrowed to a namespace, optionally narrowed to an environment.
type Scope struct {
	AppID     string
	Namespace string
	Env       string
}

// AppScope returns a scope covering a whole application.
func AppScope(appID string) Scope {
	return Scope{AppID: appID}
}

// NamespaceScope returns a scope covering one namespace across all
// environments.
func NamespaceScope(appID, namespace string) Scope {
	return Scope{AppID: appID, Namespace: namespace}
}

// EnvScope returns a scope covering one namespace in one environment.
func EnvScope(appID, namespace, env string) Scope {
	return Scope{AppID: appID, Namespace: namespace, Env: env}
}

// DefaultNamespaceScope returns the scope of an application's default
// namespace.
func DefaultNamespaceScope(appID string) Scope {
	return NamespaceScope(appID, DefaultNamespace)
}

// TargetID serializes the scope as a permission target id.
func (s Scope) TargetID() string {
	return join(s.AppID, s.Namespace, s.Env)
}

// RoleName serializes a role name for the given role type and scope.
func RoleName(t RoleType, s Scope) string {
	return join(string(t), s.AppID, s.Namespace, s.Env)
}

// AppMasterRoleName returns the name of the role administering an
// application.
func AppMasterRoleName(appID string) string {
	return join(string(RoleMaster), appID)
}

// ManageAppMasterRoleName returns the name of the role allowed to manage an
// application's master assignments.
func ManageAppMasterRoleName(appID string) string {
	return join(string(PermManageAppMaster), appID)
}

// CreateApplicationRoleName returns the name of the global role allowed to
// create applications.
func CreateApplicationRoleName() string {
	return join(string(PermCreateApplication), SystemTargetID)
}

// ExtractAppID decodes the application id out of a role name. It reports
// false when the leading token is not a recognized role type or the name has
// no further segment. Malformed input never fails, it only yields absence.
func ExtractAppID(roleName string) (string, bool) {
	parts := split(roleName)
	if len(parts) < 2 {
		return "", false
	}
	if !RoleType(parts[0]).Valid() {
		return "", false
	}
	return parts[1], true
}

// ExtractAppIDFromMasterRoleName decodes the application id out of an
// app-master role name specifically.
func ExtractAppIDFromMasterRoleName(roleName string) (string, bool) {
	parts := split(roleName)
	if len(parts) < 2 || parts[0] != string(RoleMaster) {
		return "", false
	}
	return parts[1], true
}

// join concatenates parts with the separator, skipping absent parts so that a
// missing middle value never produces an empty segment before a real one.
func join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, Separator)
}

func split(s string) []string {
	raw := strings.Split(s, Separator)
	parts := raw[:0]
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

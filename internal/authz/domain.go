package authz

import (
	"github.com/meridian-config/meridian/internal/rolekey"
	"github.com/meridian-config/meridian/internal/shared"
)

// Audit is the shared creator/modifier metadata embedded in every
// authorization entity.
type Audit = shared.Audit

// Permission grants one operation on one target scope. The
// (Type, TargetID) pair is unique.
type Permission struct {
	ID       int64
	Type     rolekey.PermissionType
	TargetID string
	Audit
}

// Role is a named grouping of permissions. Name is globally unique and
// encodes the role's scope (see package rolekey), but uniqueness is enforced
// on the full string.
type Role struct {
	ID   int64
	Name string
	Audit
}

// RolePermission joins a role to a permission.
type RolePermission struct {
	ID           int64
	RoleID       int64
	PermissionID int64
	Audit
}

// UserRole joins a user identity to a role.
type UserRole struct {
	ID     int64
	UserID string
	RoleID int64
	Audit
}

// SuperAdminList is the configured allow-list of user ids that bypass all
// scoped permission checks.
type SuperAdminList interface {
	SuperAdmins() []string
}

package rolekey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-config/meridian/internal/rolekey"
)

func TestRoleNameOmitsAbsentParts(t *testing.T) {
	assert.Equal(t, "Master+orders", rolekey.AppMasterRoleName("orders"))
	assert.Equal(t, "ModifyNamespace+orders+application",
		rolekey.RoleName(rolekey.RoleModifyNamespace, rolekey.DefaultNamespaceScope("orders")))
	assert.Equal(t, "ReleaseNamespace+orders+pricing+PRO",
		rolekey.RoleName(rolekey.RoleReleaseNamespace, rolekey.EnvScope("orders", "pricing", "PRO")))
}

func TestTargetID(t *testing.T) {
	assert.Equal(t, "orders", rolekey.AppScope("orders").TargetID())
	assert.Equal(t, "orders+pricing", rolekey.NamespaceScope("orders", "pricing").TargetID())
	assert.Equal(t, "orders+pricing+UAT", rolekey.EnvScope("orders", "pricing", "UAT").TargetID())
}

func TestSystemRoleNames(t *testing.T) {
	assert.Equal(t, "CreateApplication+SYSTEM", rolekey.CreateApplicationRoleName())
	assert.Equal(t, "ManageAppMaster+orders", rolekey.ManageAppMasterRoleName("orders"))
}

func TestExtractAppID(t *testing.T) {
	for _, tc := range []struct {
		name  string
		role  string
		appID string
		ok    bool
	}{
		{"master role", "Master+orders", "orders", true},
		{"namespace role", "ModifyNamespace+orders+pricing", "orders", true},
		{"env role", "ReleaseNamespace+orders+pricing+PRO", "orders", true},
		{"unknown role type", "ManageAppMaster+orders", "", false},
		{"no app segment", "Master", "", false},
		{"empty", "", "", false},
		{"separator only", "+++", "", false},
		{"garbage", "not-a-role-name", "", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			appID, ok := rolekey.ExtractAppID(tc.role)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.appID, appID)
		})
	}
}

func TestExtractAppIDRoundTrip(t *testing.T) {
	for _, rt := range []rolekey.RoleType{
		rolekey.RoleMaster, rolekey.RoleModifyNamespace, rolekey.RoleReleaseNamespace,
	} {
		name := rolekey.RoleName(rt, rolekey.EnvScope("billing", "rates", "DEV"))
		appID, ok := rolekey.ExtractAppID(name)
		assert.True(t, ok)
		assert.Equal(t, "billing", appID)
	}
}

func TestExtractAppIDFromMasterRoleName(t *testing.T) {
	appID, ok := rolekey.ExtractAppIDFromMasterRoleName("Master+orders")
	assert.True(t, ok)
	assert.Equal(t, "orders", appID)

	_, ok = rolekey.ExtractAppIDFromMasterRoleName("ModifyNamespace+orders+pricing")
	assert.False(t, ok)
}

func TestValidTokens(t *testing.T) {
	assert.True(t, rolekey.RoleMaster.Valid())
	assert.False(t, rolekey.RoleType("ManageAppMaster").Valid())
	assert.True(t, rolekey.PermManageAppMaster.Valid())
	assert.False(t, rolekey.PermissionType("Master").Valid())
}

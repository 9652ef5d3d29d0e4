package shared

import "fmt"

// ProvisionLockKey builds redis keys for role provisioning critical sections.
func ProvisionLockKey(appID string) string {
	return fmt.Sprintf("provision:app:%s:lock", appID)
}

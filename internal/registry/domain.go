// Package registry exposes read access to the portal's application records.
// The authorization core consumes these, it does not own them.
package registry

import "context"

// App is an application registered in the portal.
type App struct {
	AppID     string
	Name      string
	OrgID     string
	OrgName   string
	OwnerName string
	CreatedBy string
}

// AppLoader loads application records.
type AppLoader interface {
	LoadApp(ctx context.Context, appID string) (*App, error)
}

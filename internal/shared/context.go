package shared

import "context"

type contextKey string

const userContextKey contextKey = "meridian.user"

// ContextWithUser stores the authenticated user id in the context.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// UserFromContext returns the authenticated user id, or "" when absent.
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userContextKey).(string); ok {
		return v
	}
	return ""
}

// ContextUserHolder resolves the current user from the request context.
type ContextUserHolder struct{}

// CurrentUser returns the user id stored in the context.
func (ContextUserHolder) CurrentUser(ctx context.Context) string {
	return UserFromContext(ctx)
}

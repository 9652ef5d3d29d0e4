package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-config/meridian/internal/platform/httpx"
	"github.com/meridian-config/meridian/internal/rolekey"
	"github.com/meridian-config/meridian/internal/shared"
)

// Authorizer decides whether the current user may manage role assignments of
// an application.
type Authorizer interface {
	IsAppAdmin(ctx context.Context, appID string) bool
}

// Handler exposes role assignment and permission check operations.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	authorizer Authorizer
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authorizer Authorizer) *Handler {
	return &Handler{logger: logger, service: service, authorizer: authorizer}
}

// MountRoutes registers the authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/apps/{appID}/roles/{roleName}/users", func(r chi.Router) {
		r.Post("/", h.assignRole)
		r.Delete("/", h.removeRole)
		r.Get("/", h.usersWithRole)
	})
	r.Get("/permissions/{permissionType}/targets/{targetID}/check", h.checkPermission)
}

type roleUsersRequest struct {
	UserIDs []string `json:"userIds"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	roleName := chi.URLParam(r, "roleName")

	if !h.authorizer.IsAppAdmin(r.Context(), appID) {
		httpx.RespondError(w, fmt.Errorf("user may not assign roles in app %s: %w", appID, shared.ErrForbidden))
		return
	}

	var req roleUsersRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid body: %w", shared.ErrValidation))
		return
	}

	operator := shared.UserFromContext(r.Context())
	granted, err := h.service.AssignRoleToUsers(r.Context(), roleName, req.UserIDs, operator)
	if err != nil {
		h.logger.Error("assign role", slog.String("role", roleName), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"granted": granted})
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	roleName := chi.URLParam(r, "roleName")

	if !h.authorizer.IsAppAdmin(r.Context(), appID) {
		httpx.RespondError(w, fmt.Errorf("user may not remove roles in app %s: %w", appID, shared.ErrForbidden))
		return
	}

	var req roleUsersRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid body: %w", shared.ErrValidation))
		return
	}

	operator := shared.UserFromContext(r.Context())
	if err := h.service.RemoveRoleFromUsers(r.Context(), roleName, req.UserIDs, operator); err != nil {
		h.logger.Error("remove role", slog.String("role", roleName), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"removed": req.UserIDs})
}

func (h *Handler) usersWithRole(w http.ResponseWriter, r *http.Request) {
	roleName := chi.URLParam(r, "roleName")
	users, err := h.service.QueryUsersWithRole(r.Context(), roleName)
	if err != nil {
		h.logger.Error("query users with role", slog.String("role", roleName), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"userIds": users})
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	permissionType := rolekey.PermissionType(chi.URLParam(r, "permissionType"))
	targetID := chi.URLParam(r, "targetID")

	if !permissionType.Valid() {
		httpx.RespondError(w, fmt.Errorf("unknown permission type: %w", shared.ErrValidation))
		return
	}

	userID := shared.UserFromContext(r.Context())
	has, err := h.service.UserHasPermission(r.Context(), userID, permissionType, targetID)
	if err != nil {
		h.logger.Error("check permission", slog.String("permission", string(permissionType)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"hasPermission": has})
}

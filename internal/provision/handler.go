package provision

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-config/meridian/internal/platform/httpx"
	"github.com/meridian-config/meridian/internal/registry"
	"github.com/meridian-config/meridian/internal/shared"
)

// Handler exposes the provisioning entry points the portal's application
// lifecycle calls into.
type Handler struct {
	logger  *slog.Logger
	service *Service
	apps    registry.AppLoader
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, apps registry.AppLoader) *Handler {
	return &Handler{logger: logger, service: service, apps: apps}
}

// MountRoutes registers the provisioning routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/apps/{appID}/roles", h.initAppRoles)
	r.Post("/apps/{appID}/manage-app-master-role", h.initManageAppMasterRole)
	r.Post("/apps/{appID}/namespaces/{name}/envs/{env}/roles", h.initNamespaceEnvRoles)
}

func (h *Handler) initAppRoles(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	app, err := h.apps.LoadApp(r.Context(), appID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	if err := h.service.InitAppRoles(r.Context(), *app); err != nil {
		h.logger.Error("init app roles", slog.String("app", appID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"appId": appID})
}

func (h *Handler) initManageAppMasterRole(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	if _, err := h.apps.LoadApp(r.Context(), appID); err != nil {
		httpx.RespondError(w, err)
		return
	}

	operator := shared.UserFromContext(r.Context())
	if err := h.service.InitManageAppMasterRole(r.Context(), appID, operator); err != nil {
		h.logger.Error("init manage app master role", slog.String("app", appID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"appId": appID})
}

func (h *Handler) initNamespaceEnvRoles(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	name := chi.URLParam(r, "name")
	env := chi.URLParam(r, "env")

	if name == "" || env == "" {
		httpx.RespondError(w, fmt.Errorf("namespace and env are required: %w", shared.ErrValidation))
		return
	}

	operator := shared.UserFromContext(r.Context())
	if err := h.service.InitNamespaceSpecificEnvRoles(r.Context(), appID, name, env, operator); err != nil {
		h.logger.Error("init namespace env roles",
			slog.String("app", appID),
			slog.String("namespace", name),
			slog.String("env", env),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"appId": appID, "namespace": name, "env": env})
}

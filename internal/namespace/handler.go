package namespace

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-config/meridian/internal/platform/httpx"
	"github.com/meridian-config/meridian/internal/shared"
)

// Authorizer gates namespace creation and removal on the caller's
// permissions.
type Authorizer interface {
	HasCreateAppNamespacePermission(ctx context.Context, appID string, ns AppNamespace) bool
	HasDeleteNamespacePermission(ctx context.Context, appID string) bool
}

// Handler exposes the namespace registration endpoints.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	authorizer Authorizer
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authorizer Authorizer) *Handler {
	return &Handler{logger: logger, service: service, authorizer: authorizer}
}

// MountRoutes registers the namespace routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/apps/{appID}/namespaces", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{name}", h.get)
		r.Delete("/{name}", h.remove)
	})
}

type createNamespaceRequest struct {
	Name         string `json:"name"`
	Comment      string `json:"comment"`
	Format       string `json:"format"`
	IsPublic     bool   `json:"isPublic"`
	AppendPrefix bool   `json:"appendNamespacePrefix"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	namespaces, err := h.service.FindByAppID(r.Context(), appID)
	if err != nil {
		h.logger.Error("list namespaces", slog.String("app", appID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, namespaces)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	name := chi.URLParam(r, "name")
	ns, err := h.service.FindByAppIDAndName(r.Context(), appID, name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ns)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	var req createNamespaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid body: %w", shared.ErrValidation))
		return
	}

	ns := AppNamespace{
		AppID:    appID,
		Name:     req.Name,
		Comment:  req.Comment,
		Format:   Format(req.Format),
		IsPublic: req.IsPublic,
	}

	if !h.authorizer.HasCreateAppNamespacePermission(r.Context(), appID, ns) {
		httpx.RespondError(w, fmt.Errorf("user may not create namespaces in app %s: %w", appID, shared.ErrForbidden))
		return
	}

	created, err := h.service.CreateInLocal(r.Context(), ns, req.AppendPrefix)
	if err != nil {
		h.logger.Error("create namespace",
			slog.String("app", appID),
			slog.String("namespace", req.Name),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	name := chi.URLParam(r, "name")

	if !h.authorizer.HasDeleteNamespacePermission(r.Context(), appID) {
		httpx.RespondError(w, fmt.Errorf("user may not delete namespaces in app %s: %w", appID, shared.ErrForbidden))
		return
	}

	deleted, err := h.service.Delete(r.Context(), appID, name)
	if err != nil {
		h.logger.Error("delete namespace",
			slog.String("app", appID),
			slog.String("namespace", name),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, deleted)
}

package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-config/meridian/internal/authz"
	"github.com/meridian-config/meridian/internal/namespace"
	"github.com/meridian-config/meridian/internal/observability"
	"github.com/meridian-config/meridian/internal/provision"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AuthzHandler     *authz.Handler
	NamespaceHandler *namespace.Handler
	ProvisionHandler *provision.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AuthzHandler != nil {
		params.AuthzHandler.MountRoutes(r)
	}
	if params.NamespaceHandler != nil {
		params.NamespaceHandler.MountRoutes(r)
	}
	if params.ProvisionHandler != nil {
		r.Route("/provision", params.ProvisionHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

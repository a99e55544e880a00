package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockdesk/internal/auth"
	"github.com/odyssey-erp/stockdesk/internal/clientstore"
	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/observability"
	"github.com/odyssey-erp/stockdesk/internal/platform/httpx"
	"github.com/odyssey-erp/stockdesk/internal/rbac"
	"github.com/odyssey-erp/stockdesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Clients        *clientstore.Manager
	AuthHandler    *auth.Handler
	RBACHandler    *rbac.Handler
	RBACMiddleware rbac.Middleware
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Clients: params.Clients,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		user := params.RBACMiddleware.Sessions.CurrentUser(r.Context())
		if user == nil {
			http.Redirect(w, r, entryPath(params.Config), http.StatusSeeOther)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"user": user,
			"menu": "/api/permissions",
		})
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/api", params.RBACHandler.MountRoutes)
	r.Route("/modules", func(r chi.Router) {
		for _, module := range modules.All() {
			r.With(params.RBACMiddleware.RequireModule(module)).Get("/"+module.Slug(), moduleLanding(module))
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	return r
}

type landingView struct {
	Module modules.Key `json:"module"`
	Slug   string      `json:"slug"`
}

func moduleLanding(module modules.Key) http.HandlerFunc {
	view := landingView{Module: module, Slug: module.Slug()}
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, view)
	}
}

func entryPath(cfg *Config) string {
	if cfg == nil || cfg.EntryPath == "" {
		return "/auth/login"
	}
	return cfg.EntryPath
}

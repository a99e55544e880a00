package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/permstore"
	"github.com/odyssey-erp/stockdesk/internal/platform/httpx"
)

// Handler exposes permission endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	resolver  *Resolver
	rbac      Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, resolver: resolver, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers permission routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/modules", h.listModules)
	r.Get("/permissions", h.myPermissions)
	r.Get("/access/{module}", h.access)
	r.Route("/roles", func(r chi.Router) {
		r.Use(h.rbac.RequireModule(modules.RoleManagement))
		r.Get("/", h.listRoles)
		r.Get("/{roleID}/permissions", h.rolePermissions)
		r.Put("/{roleID}/permissions", h.setRolePermissions)
	})
}

type moduleView struct {
	Key  modules.Key `json:"key"`
	Slug string      `json:"slug"`
}

func (h *Handler) listModules(w http.ResponseWriter, r *http.Request) {
	all := modules.All()
	out := make([]moduleView, 0, len(all))
	for _, k := range all {
		out = append(out, moduleView{Key: k, Slug: k.Slug()})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"modules": out})
}

type permissionsView struct {
	Resolved    bool                  `json:"resolved"`
	Permissions modules.PermissionMap `json:"permissions"`
	Allowed     []modules.Key         `json:"allowed"`
}

// myPermissions returns the caller's full map. A failed resolution answers
// with an empty map so that clients render nothing rather than everything.
func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := h.rbac.Sessions.CurrentUser(ctx)
	if user == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	perms, ok := h.resolver.Resolve(ctx, permstore.FromContext(ctx, h.logger), user.ID, user.CompanyID)
	if !ok {
		perms = modules.PermissionMap{}
	}
	httpx.JSON(w, http.StatusOK, permissionsView{Resolved: ok, Permissions: perms, Allowed: perms.AllowedKeys()})
}

type accessView struct {
	Module modules.Key `json:"module"`
	State  State       `json:"state"`
}

func (h *Handler) access(w http.ResponseWriter, r *http.Request) {
	module, ok := modules.Parse(chi.URLParam(r, "module"))
	if !ok {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, accessView{Module: module, State: h.rbac.Evaluate(r, module)})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.RolePermissions(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		h.respondServiceError(w, "list role permissions", err)
		return
	}
	if entries == nil {
		entries = []PermissionEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": entries})
}

type permissionsForm struct {
	Permissions []permissionInput `json:"permissions" validate:"dive"`
}

type permissionInput struct {
	Module  string `json:"module" validate:"required"`
	Allowed bool   `json:"allowed"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	var form permissionsForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	entries := make([]PermissionEntry, 0, len(form.Permissions))
	for _, in := range form.Permissions {
		module, ok := modules.Parse(in.Module)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown module")
			return
		}
		entries = append(entries, PermissionEntry{Module: module, Allowed: in.Allowed})
	}
	roleID := chi.URLParam(r, "roleID")
	if err := h.service.SetRolePermissions(r.Context(), roleID, entries); err != nil {
		h.respondServiceError(w, "set role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrDuplicateModule):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "module listed more than once")
	case errors.Is(err, ErrUnknownModule):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown module")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

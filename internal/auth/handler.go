package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockdesk/internal/platform/httpx"
	"github.com/odyssey-erp/stockdesk/internal/session"
)

// Handler wires HTTP endpoints for the session lifecycle. Credentials are
// verified upstream; this service only records the outcome.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/session", h.handleSession)
	r.Get("/me", h.me)
	r.Post("/logout", h.handleLogout)
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if h.service.Current(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	httpx.Problem(w, http.StatusUnauthorized, "Sign In Required", "Sign in through the company portal to continue.")
}

type sessionForm struct {
	UserID    string          `json:"user_id" validate:"required"`
	CompanyID string          `json:"company_id" validate:"required"`
	RoleID    string          `json:"role_id"`
	Profile   json.RawMessage `json:"profile"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	var form sessionForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	user, err := h.service.SignIn(r.Context(), session.User{
		ID:        form.UserID,
		CompanyID: form.CompanyID,
		RoleID:    form.RoleID,
		Raw:       form.Profile,
	})
	if err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		if errors.Is(err, session.ErrNoStorage) {
			h.logger.Error("sign in without client storage")
		} else {
			h.logger.Warn("sign in", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusUnprocessableEntity, "Sign In Failed", "The session could not be stored.")
		return
	}
	h.logger.Info("session established",
		slog.String("user_id", user.ID),
		slog.String("company_id", user.CompanyID))
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user := h.service.Current(r.Context())
	if user == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context()); err != nil {
		h.logger.Warn("sign out", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

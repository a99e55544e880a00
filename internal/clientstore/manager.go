package clientstore

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Manager binds browser clients to their storage through a cookie.
type Manager struct {
	backend    Backend
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     *slog.Logger
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for storage refresh failures.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Client is the storage of one identified browser.
type Client struct {
	ID string
	Storage
	isNew bool
}

// IsNew reports whether the client id was issued by this request.
func (c *Client) IsNew() bool {
	return c != nil && c.isNew
}

// NewManager constructs a Manager.
func NewManager(backend Backend, cookieName string, ttl time.Duration, secure bool, opts ...ManagerOption) *Manager {
	m := &Manager{backend: backend, cookieName: cookieName, ttl: ttl, secure: secure, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CookieName returns the cookie identifier used for clients.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Backend exposes the underlying backend.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Load identifies the client of r, issuing a new id when the cookie is
// missing or does not hold a valid id.
func (m *Manager) Load(r *http.Request) *Client {
	if cookie, err := r.Cookie(m.cookieName); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			return &Client{ID: id.String(), Storage: m.backend.Scope(id.String())}
		}
	}
	id := uuid.NewString()
	return &Client{ID: id, Storage: m.backend.Scope(id), isNew: true}
}

// Touch writes the client cookie, extending its lifetime.
func (m *Manager) Touch(w http.ResponseWriter, c *Client) {
	if c == nil || c.ID == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    c.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(m.ttl),
	})
}

// Middleware loads the client storage into the request context. Returning
// clients get both the cookie and their stored values extended.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := m.Load(r)
		if !client.IsNew() {
			if err := m.backend.Refresh(r.Context(), client.ID); err != nil {
				m.logger.Warn("refresh client storage", slog.Any("error", err))
			}
		}
		m.Touch(w, client)
		ctx := ContextWithStorage(r.Context(), client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

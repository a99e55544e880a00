package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockdesk/internal/clientstore"
	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/session"
)

type fakeInvalidator struct {
	roles []string
	err   error
}

func (f *fakeInvalidator) InvalidateRole(ctx context.Context, roleID string) error {
	f.roles = append(f.roles, roleID)
	return f.err
}

type harness struct {
	lookups     *fakeLookups
	invalidator *fakeInvalidator
	middleware  Middleware
	router      chi.Router
	storage     clientstore.Storage
	sessions    *session.Context
	logs        *lockedBuffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, buf := newTestLogger()
	lookups := newFakeLookups()
	lookups.roles = []Role{{ID: "r-admin", Name: "Admin"}, {ID: "r1", Name: "Buyer"}}
	lookups.grant("r-admin", modules.RoleManagement, true)
	lookups.grant("r1", modules.Reports, true)
	lookups.assign("u1", "c1", "r1")
	lookups.assign("admin", "c1", "r-admin")

	resolver := NewResolver(lookups, logger)
	sessions := session.New(logger)
	mw := Middleware{
		Checker:   NewChecker(lookups, logger, WithResolver(resolver)),
		Sessions:  sessions,
		Logger:    logger,
		EntryPath: "/auth/login",
		Contact:   "it-support@example.test",
	}
	invalidator := &fakeInvalidator{}
	handler := NewHandler(logger, NewService(lookups, invalidator, logger), resolver, mw)

	storage := clientstore.NewMemoryBackend(time.Hour, 0).Scope("client-1")
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(clientstore.ContextWithStorage(req.Context(), storage)))
		})
	})
	r.Route("/api", handler.MountRoutes)
	r.With(mw.RequireModule(modules.Reports)).Get("/modules/reports", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("reports"))
	})
	r.With(mw.RequireAny(modules.Administration, modules.Reports)).Get("/either", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("either"))
	})
	r.With(mw.RequireAny()).Get("/nothing", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("nothing"))
	})
	return &harness{lookups: lookups, invalidator: invalidator, middleware: mw, router: r, storage: storage, sessions: sessions, logs: buf}
}

func (h *harness) signIn(t *testing.T, user session.User) {
	t.Helper()
	ctx := clientstore.ContextWithStorage(context.Background(), h.storage)
	_, err := h.sessions.Establish(ctx, user)
	require.NoError(t, err)
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestRequireModuleRedirectsUnauthenticated(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/modules/reports", "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/auth/login", rec.Header().Get("Location"))
	require.Zero(t, h.lookups.remoteCalls())
}

func TestRequireModuleAllows(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, session.User{ID: "u1", CompanyID: "c1", RoleID: "r1"})
	rec := h.do(http.MethodGet, "/modules/reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "reports", rec.Body.String())
}

func TestRequireModuleRestrictedView(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, session.User{ID: "u1", CompanyID: "c1", RoleID: "r-none"})
	rec := h.do(http.MethodGet, "/modules/reports", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var view RestrictedView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "about:blank", view.Type)
	require.Equal(t, http.StatusForbidden, view.Status)
	require.Equal(t, "Access Restricted", view.Title)
	require.Equal(t, "it-support@example.test", view.Contact)
	require.Equal(t, "/", view.Back)
}

func TestRequireModuleHidesLookupErrors(t *testing.T) {
	h := newHarness(t)
	h.lookups.moduleErr = errors.New("pq: password authentication failed")
	h.signIn(t, session.User{ID: "u1", CompanyID: "c1", RoleID: "r1"})
	rec := h.do(http.MethodGet, "/modules/reports", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NotContains(t, rec.Body.String(), "password")
	require.Contains(t, h.logs.String(), "password authentication failed")
}

func TestRequireAny(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, session.User{ID: "u1", CompanyID: "c1", RoleID: "r1"})
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/either", "").Code)
	require.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/nothing", "").Code)
}

func TestAccessEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/access/reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"module":"Reports","state":"unauthenticated"}`, rec.Body.String())

	h.signIn(t, session.User{ID: "u1", CompanyID: "c1", RoleID: "r1"})
	rec = h.do(http.MethodGet, "/api/access/Reports", "")
	require.JSONEq(t, `{"module":"Reports","state":"allowed"}`, rec.Body.String())

	rec = h.do(http.MethodGet, "/api/access/administration", "")
	require.JSONEq(t, `{"module":"Administration","state":"denied"}`, rec.Body.String())

	rec = h.do(http.MethodGet, "/api/access/payroll", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionsEndpoint(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/permissions", "").Code)

	h.signIn(t, session.User{ID: "u1", CompanyID: "c1"})
	rec := h.do(http.MethodGet, "/api/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"resolved":true,"permissions":{"Reports":true},"allowed":["Reports"]}`, rec.Body.String())

	h.signIn(t, session.User{ID: "ghost", CompanyID: "c1"})
	rec = h.do(http.MethodGet, "/api/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"resolved":false,"permissions":{},"allowed":[]}`, rec.Body.String())
}

func TestModulesEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/modules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Modules []moduleView `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Modules, len(modules.All()))
	require.Equal(t, "purchase-order-approvals", body.Modules[4].Slug)
}

func TestRoleAdministrationRequiresRoleManagement(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, session.User{ID: "u1", CompanyID: "c1", RoleID: "r1"})
	require.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/roles/", "").Code)
}

func TestRoleAdministration(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, session.User{ID: "admin", CompanyID: "c1", RoleID: "r-admin"})

	rec := h.do(http.MethodGet, "/api/roles/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"Buyer"`)

	rec = h.do(http.MethodGet, "/api/roles/r1/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"module":"Reports"`)

	rec = h.do(http.MethodPut, "/api/roles/r1/permissions", `{"permissions":[{"module":"dashboard","allowed":true},{"module":"Reports","allowed":false}]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []PermissionEntry{
		{RoleID: "r1", Module: modules.Dashboard, Allowed: true},
		{RoleID: "r1", Module: modules.Reports, Allowed: false},
	}, h.lookups.replaced["r1"])
	require.Equal(t, []string{"r1"}, h.invalidator.roles)
}

func TestRoleAdministrationValidation(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, session.User{ID: "admin", CompanyID: "c1", RoleID: "r-admin"})

	rec := h.do(http.MethodPut, "/api/roles/r1/permissions", `{"permissions":[{"module":"Reports"},{"module":"reports","allowed":true}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPut, "/api/roles/r1/permissions", `{"permissions":[{"module":"Payroll","allowed":true}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/api/roles/r1/permissions", `{"permissions":[{"allowed":true}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/api/roles/r1/permissions", `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/api/roles/missing/permissions", `{"permissions":[]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, h.invalidator.roles)
}

func TestSetRolePermissionsToleratesInvalidatorFailure(t *testing.T) {
	logger, buf := newTestLogger()
	lookups := newFakeLookups()
	lookups.roles = []Role{{ID: "r1"}}
	invalidator := &fakeInvalidator{err: errors.New("redis down")}
	svc := NewService(lookups, invalidator, logger)

	err := svc.SetRolePermissions(context.Background(), "r1", []PermissionEntry{{Module: modules.Dashboard, Allowed: true}})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "schedule role cache invalidation")
}

func TestRequireModuleDeniesWhenRequestEndsMidCheck(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, session.User{ID: "u1", CompanyID: "c1", RoleID: "r1"})
	gate := h.lookups.block(modules.Reports)
	defer close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/modules/reports", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NotEqual(t, "reports", rec.Body.String())
}

package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/permstore"
	"github.com/odyssey-erp/stockdesk/internal/platform/httpx"
	"github.com/odyssey-erp/stockdesk/internal/session"
)

// Middleware wires access checks into HTTP handlers.
type Middleware struct {
	Checker  *Checker
	Sessions *session.Context
	Logger   *slog.Logger
	// EntryPath receives unauthenticated clients.
	EntryPath string
	// Contact is shown on the access restricted view.
	Contact string
}

// RestrictedView is the fixed body sent for denied requests.
type RestrictedView struct {
	httpx.ProblemDetail
	Contact string `json:"contact,omitempty"`
	Back    string `json:"back"`
}

// Evaluate runs one access check for the request.
func (m Middleware) Evaluate(r *http.Request, module modules.Key) State {
	return m.evaluate(r, module)
}

// evaluate feeds mods to one Guard in turn and stops at the first module
// that is not denied. A request that ends before the check settles is
// denied. Without modules the result is StateDenied.
func (m Middleware) evaluate(r *http.Request, mods ...modules.Key) State {
	ctx := r.Context()
	user := m.Sessions.CurrentUser(ctx)
	if user == nil {
		return StateUnauthenticated
	}
	guard := NewGuard(m.Checker, permstore.FromContext(ctx, m.Logger), nil)
	defer guard.Close()

	state := StateDenied
	for _, module := range mods {
		guard.Update(ctx, Inputs{User: user, Module: module})
		settled, err := guard.Wait(ctx)
		if err != nil || !settled.Settled() {
			return StateDenied
		}
		state = settled
		if state != StateDenied {
			break
		}
	}
	return state
}

// RequireModule lets the request through only when module is allowed.
func (m Middleware) RequireModule(module modules.Key) func(http.Handler) http.Handler {
	return m.RequireAny(module)
}

// RequireAny lets the request through when at least one module is allowed.
// Without modules every request is denied.
func (m Middleware) RequireAny(mods ...modules.Key) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch m.evaluate(r, mods...) {
			case StateAllowed:
				next.ServeHTTP(w, r)
			case StateUnauthenticated:
				m.redirectToEntry(w, r)
			default:
				m.restricted(w)
			}
		})
	}
}

func (m Middleware) redirectToEntry(w http.ResponseWriter, r *http.Request) {
	target := m.EntryPath
	if target == "" {
		target = "/auth/login"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (m Middleware) restricted(w http.ResponseWriter) {
	httpx.WriteProblem(w, http.StatusForbidden, RestrictedView{
		ProblemDetail: httpx.ProblemDetail{
			Type:   httpx.ProblemTypeDefault,
			Title:  "Access Restricted",
			Status: http.StatusForbidden,
			Detail: "You do not have permission to view this module.",
		},
		Contact: m.Contact,
		Back:    "/",
	})
}

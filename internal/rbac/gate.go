package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/permstore"
	"github.com/odyssey-erp/stockdesk/internal/session"
)

// DecisionRecorder observes settled access decisions and failed lookups.
type DecisionRecorder interface {
	RecordDecision(module, state string)
	RecordCheckError(module string)
}

// Checker decides whether a user may view a module. It fails closed.
type Checker struct {
	lookups  LookupPort
	resolver *Resolver
	logger   *slog.Logger
	recorder DecisionRecorder
}

// CheckerOption customises a Checker.
type CheckerOption func(*Checker)

// WithResolver lets the checker fall back to a full resolution when no role
// id is cached or carried by the user.
func WithResolver(r *Resolver) CheckerOption {
	return func(c *Checker) { c.resolver = r }
}

// WithRecorder reports every decision to rec.
func WithRecorder(rec DecisionRecorder) CheckerOption {
	return func(c *Checker) { c.recorder = rec }
}

// NewChecker constructs a Checker.
func NewChecker(lookups LookupPort, logger *slog.Logger, opts ...CheckerOption) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{lookups: lookups, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check evaluates access of user to module. store may be nil, in which case
// nothing is read from or written to the client cache.
func (c *Checker) Check(ctx context.Context, user *session.User, store *permstore.Store, module modules.Key) State {
	state := c.check(ctx, user, store, module)
	if c.recorder != nil {
		c.recorder.RecordDecision(string(module), state.String())
	}
	return state
}

func (c *Checker) check(ctx context.Context, user *session.User, store *permstore.Store, module modules.Key) State {
	if user == nil {
		return StateUnauthenticated
	}
	if !module.Valid() {
		c.logger.Warn("access check for unknown module", slog.String("module", string(module)))
		return StateDenied
	}
	roleID := c.roleID(ctx, user, store)
	if roleID == "" {
		c.logger.Warn("access denied: role unresolved",
			slog.String("user_id", user.ID),
			slog.String("module", string(module)))
		return StateDenied
	}
	entry, err := c.lookups.ModulePermission(ctx, roleID, module)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StateDenied
		}
		c.logger.Error("access check failed",
			slog.String("module", string(module)),
			slog.String("role_id", roleID),
			slog.Any("error", err))
		if c.recorder != nil {
			c.recorder.RecordCheckError(string(module))
		}
		return StateDenied
	}
	if entry.Allowed {
		return StateAllowed
	}
	return StateDenied
}

// RoleHint returns the role id Check would use without contacting the backend.
func (c *Checker) RoleHint(ctx context.Context, user *session.User, store *permstore.Store) string {
	roleID, _ := c.localRole(ctx, user, store)
	return roleID
}

// localRole prefers the cached role id, then the user payload, then the
// cached permission snapshot. cached reports whether the id came from the
// role cache.
func (c *Checker) localRole(ctx context.Context, user *session.User, store *permstore.Store) (roleID string, cached bool) {
	if user == nil {
		return "", false
	}
	if store != nil {
		if id := store.RoleID(ctx); id != "" {
			return id, true
		}
	}
	if id := strings.TrimSpace(user.RoleID); id != "" {
		return id, false
	}
	if store != nil {
		if snapshot := store.Read(ctx); snapshot != nil {
			return snapshot.RoleID, false
		}
	}
	return "", false
}

// roleID falls back to a full resolution when nothing local is known. A role
// id found outside the role cache is persisted there.
func (c *Checker) roleID(ctx context.Context, user *session.User, store *permstore.Store) string {
	roleID, cached := c.localRole(ctx, user, store)
	if cached {
		return roleID
	}
	if roleID == "" && c.resolver != nil {
		roleID, _ = c.resolver.RoleFor(ctx, store, user.ID, user.CompanyID)
	}
	if roleID != "" && store != nil {
		if err := store.SetRoleID(ctx, roleID); err != nil {
			c.logger.Warn("cache role id", slog.String("role_id", roleID), slog.Any("error", err))
		}
	}
	return roleID
}

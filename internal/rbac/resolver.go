package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/permstore"
)

var errMissingIdentity = errors.New("rbac: user and company required")

// fetchTimeout bounds a shared lookup, which outlives the caller that started it.
const fetchTimeout = 10 * time.Second

// Resolver builds the full permission map of a user from the role tables.
type Resolver struct {
	lookups LookupPort
	logger  *slog.Logger
	group   singleflight.Group
}

type resolution struct {
	roleID string
	perms  modules.PermissionMap
}

// NewResolver constructs a Resolver.
func NewResolver(lookups LookupPort, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookups: lookups, logger: logger}
}

// Resolve returns the permission map of the user's role in the company and
// caches it in store when store is not nil. It reports false on any failure;
// failures are logged, never returned. A role without entries resolves to an
// empty map.
func (r *Resolver) Resolve(ctx context.Context, store *permstore.Store, userID, companyID string) (modules.PermissionMap, bool) {
	res, ok := r.resolve(ctx, store, userID, companyID)
	if !ok {
		return nil, false
	}
	return res.perms, true
}

// RoleFor runs a full resolution and returns only the role id.
func (r *Resolver) RoleFor(ctx context.Context, store *permstore.Store, userID, companyID string) (string, bool) {
	res, ok := r.resolve(ctx, store, userID, companyID)
	if !ok {
		return "", false
	}
	return res.roleID, true
}

func (r *Resolver) resolve(ctx context.Context, store *permstore.Store, userID, companyID string) (resolution, bool) {
	userID = strings.TrimSpace(userID)
	companyID = strings.TrimSpace(companyID)
	res, err := r.load(ctx, userID, companyID)
	if err != nil {
		r.logger.Error("resolve permissions",
			slog.String("user_id", userID),
			slog.String("company_id", companyID),
			slog.Any("error", err))
		return resolution{}, false
	}
	// Concurrent callers share one load; each gets its own map.
	res.perms = res.perms.Clone()
	if store != nil {
		if err := store.Write(ctx, res.roleID, res.perms); err != nil {
			r.logger.Warn("cache permissions",
				slog.String("role_id", res.roleID),
				slog.Any("error", err))
		}
	}
	return res, true
}

func (r *Resolver) load(ctx context.Context, userID, companyID string) (resolution, error) {
	if userID == "" || companyID == "" {
		return resolution{}, errMissingIdentity
	}
	if err := ctx.Err(); err != nil {
		return resolution{}, err
	}
	ch := r.group.DoChan(userID+"\x00"+companyID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return r.fetch(fetchCtx, userID, companyID)
	})
	select {
	case <-ctx.Done():
		return resolution{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return resolution{}, out.Err
		}
		return out.Val.(resolution), nil
	}
}

func (r *Resolver) fetch(ctx context.Context, userID, companyID string) (resolution, error) {
	roleID, err := r.lookups.RoleForUser(ctx, userID, companyID)
	if err != nil {
		return resolution{}, fmt.Errorf("role lookup: %w", err)
	}
	entries, err := r.lookups.RolePermissions(ctx, roleID)
	if err != nil {
		return resolution{}, fmt.Errorf("permission lookup for role %s: %w", roleID, err)
	}
	perms := make(modules.PermissionMap, len(entries))
	for _, entry := range entries {
		if !entry.Module.Valid() {
			r.logger.Warn("skip unknown module",
				slog.String("role_id", roleID),
				slog.String("module", string(entry.Module)))
			continue
		}
		// Later duplicates win.
		perms[entry.Module] = entry.Allowed
	}
	return resolution{roleID: roleID, perms: perms}, nil
}

package permstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockdesk/internal/clientstore"
)

// InvalidateRole drops every cached snapshot built for roleID across all
// clients of backend, together with snapshots that no longer parse. Cached
// role ids are kept. It returns the number of clients affected.
func InvalidateRole(ctx context.Context, backend clientstore.Backend, roleID string) (int, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return 0, ErrNoRole
	}
	var stale []string
	err := backend.Each(ctx, clientstore.KeyCachedPermissions, func(clientID, value string) error {
		var cached CachedPermissions
		if err := json.Unmarshal([]byte(value), &cached); err != nil || cached.RoleID == roleID {
			stale = append(stale, clientID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("permstore: scan: %w", err)
	}
	for i, clientID := range stale {
		if err := backend.Scope(clientID).Delete(ctx, clientstore.KeyCachedPermissions); err != nil {
			return i, fmt.Errorf("permstore: invalidate %s: %w", clientID, err)
		}
	}
	return len(stale), nil
}

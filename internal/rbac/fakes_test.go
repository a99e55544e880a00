package rbac

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/odyssey-erp/stockdesk/internal/clientstore"
	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/permstore"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *lockedBuffer) {
	buf := &lockedBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

type fakeLookups struct {
	mu         sync.Mutex
	userRoles  map[string][]string
	roleErr    error
	entries    map[string][]PermissionEntry
	entriesErr error
	moduleErr  error
	// gates block ModulePermission for a module until closed.
	gates map[modules.Key]chan struct{}
	// roleGate blocks RoleForUser until closed or the call context ends.
	roleGate chan struct{}

	roles    []Role
	replaced map[string][]PermissionEntry

	roleCalls    atomic.Int64
	entriesCalls atomic.Int64
	moduleCalls  atomic.Int64
}

func newFakeLookups() *fakeLookups {
	return &fakeLookups{
		userRoles: make(map[string][]string),
		entries:   make(map[string][]PermissionEntry),
		gates:     make(map[modules.Key]chan struct{}),
		replaced:  make(map[string][]PermissionEntry),
	}
}

func (f *fakeLookups) assign(userID, companyID string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userRoles[userID+"|"+companyID] = roleIDs
}

func (f *fakeLookups) grant(roleID string, module modules.Key, allowed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[roleID] = append(f.entries[roleID], PermissionEntry{RoleID: roleID, Module: module, Allowed: allowed})
}

func (f *fakeLookups) block(module modules.Key) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[module] = ch
	return ch
}

func (f *fakeLookups) RoleForUser(ctx context.Context, userID, companyID string) (string, error) {
	f.roleCalls.Add(1)
	f.mu.Lock()
	gate := f.roleGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return "", f.roleErr
	}
	ids := f.userRoles[userID+"|"+companyID]
	switch len(ids) {
	case 0:
		return "", ErrRoleNotFound
	case 1:
		return ids[0], nil
	default:
		return "", ErrAmbiguousRole
	}
}

func (f *fakeLookups) RolePermissions(ctx context.Context, roleID string) ([]PermissionEntry, error) {
	f.entriesCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entriesErr != nil {
		return nil, f.entriesErr
	}
	return append([]PermissionEntry(nil), f.entries[roleID]...), nil
}

func (f *fakeLookups) ModulePermission(ctx context.Context, roleID string, module modules.Key) (PermissionEntry, error) {
	f.moduleCalls.Add(1)
	f.mu.Lock()
	gate := f.gates[module]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moduleErr != nil {
		return PermissionEntry{}, f.moduleErr
	}
	var found *PermissionEntry
	for _, e := range f.entries[roleID] {
		if e.Module == module {
			found = &e
		}
	}
	if found == nil {
		return PermissionEntry{}, ErrNotFound
	}
	return *found, nil
}

func (f *fakeLookups) ListRoles(ctx context.Context) ([]Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Role(nil), f.roles...), nil
}

func (f *fakeLookups) ReplaceRolePermissions(ctx context.Context, roleID string, entries []PermissionEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	known := false
	for _, r := range f.roles {
		if r.ID == roleID {
			known = true
		}
	}
	if !known {
		return ErrNotFound
	}
	f.replaced[roleID] = entries
	f.entries[roleID] = append([]PermissionEntry(nil), entries...)
	return nil
}

func (f *fakeLookups) remoteCalls() int64 {
	return f.roleCalls.Load() + f.entriesCalls.Load() + f.moduleCalls.Load()
}

type quotaStorage struct {
	clientstore.Storage
}

func (quotaStorage) Set(context.Context, string, string) error {
	return clientstore.ErrQuotaExceeded
}

func newClientStore(t *testing.T, logger *slog.Logger) (*permstore.Store, context.Context) {
	t.Helper()
	storage := clientstore.NewMemoryBackend(time.Hour, 0).Scope("client-1")
	return permstore.New(storage, logger), clientstore.ContextWithStorage(context.Background(), storage)
}

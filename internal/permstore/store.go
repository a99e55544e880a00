// Package permstore caches the last resolved permission map of a client.
//
// The cache is a disposable projection of the backend role tables. It is
// either absent or a complete snapshot from one resolution; it is never
// patched in place.
package permstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stockdesk/internal/clientstore"
	"github.com/odyssey-erp/stockdesk/internal/modules"
)

// ErrNoRole indicates an attempt to cache permissions without a role id.
var ErrNoRole = errors.New("permstore: role id required")

// CachedPermissions is the persisted snapshot.
type CachedPermissions struct {
	RoleID      string                `json:"roleId"`
	Permissions modules.PermissionMap `json:"permissions"`
}

// Store reads and writes the permission cache of one client.
type Store struct {
	storage clientstore.Storage
	logger  *slog.Logger
}

// New constructs a Store over the given client storage.
func New(storage clientstore.Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{storage: storage, logger: logger}
}

// FromContext builds a Store over the client storage carried by ctx. It
// returns nil when the request has no client storage.
func FromContext(ctx context.Context, logger *slog.Logger) *Store {
	storage := clientstore.FromContext(ctx)
	if storage == nil {
		return nil
	}
	return New(storage, logger)
}

// Write replaces the cached snapshot.
func (s *Store) Write(ctx context.Context, roleID string, perms modules.PermissionMap) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return ErrNoRole
	}
	payload, err := json.Marshal(CachedPermissions{RoleID: roleID, Permissions: perms.Clone()})
	if err != nil {
		return fmt.Errorf("permstore: encode: %w", err)
	}
	if err := s.storage.Set(ctx, clientstore.KeyCachedPermissions, string(payload)); err != nil {
		return fmt.Errorf("permstore: write: %w", err)
	}
	return nil
}

// Read returns the cached snapshot, or nil when absent or unreadable.
func (s *Store) Read(ctx context.Context) *CachedPermissions {
	raw, ok, err := s.storage.Get(ctx, clientstore.KeyCachedPermissions)
	if err != nil {
		s.logger.Warn("permission cache read", slog.Any("error", err))
		return nil
	}
	if !ok {
		return nil
	}
	var cached CachedPermissions
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		s.logger.Warn("permission cache corrupt", slog.Any("error", err))
		return nil
	}
	if cached.RoleID == "" || cached.Permissions == nil {
		s.logger.Warn("permission cache corrupt", slog.String("reason", "incomplete snapshot"))
		return nil
	}
	return &cached
}

// Clear drops the cached snapshot and the cached role id.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.storage.Delete(ctx, clientstore.KeyCachedPermissions); err != nil {
		return fmt.Errorf("permstore: clear permissions: %w", err)
	}
	if err := s.storage.Delete(ctx, clientstore.KeyCachedRoleID); err != nil {
		return fmt.Errorf("permstore: clear role: %w", err)
	}
	return nil
}

// RoleID returns the cached role id, or "" when absent or unreadable.
func (s *Store) RoleID(ctx context.Context) string {
	raw, ok, err := s.storage.Get(ctx, clientstore.KeyCachedRoleID)
	if err != nil {
		s.logger.Warn("role cache read", slog.Any("error", err))
		return ""
	}
	if !ok {
		return ""
	}
	var roleID string
	if err := json.Unmarshal([]byte(raw), &roleID); err != nil {
		s.logger.Warn("role cache corrupt", slog.Any("error", err))
		return ""
	}
	return strings.TrimSpace(roleID)
}

// SetRoleID caches roleID.
func (s *Store) SetRoleID(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return ErrNoRole
	}
	payload, err := json.Marshal(roleID)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, clientstore.KeyCachedRoleID, string(payload)); err != nil {
		return fmt.Errorf("permstore: write role: %w", err)
	}
	return nil
}

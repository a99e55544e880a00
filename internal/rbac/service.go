package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Invalidator schedules removal of client permission caches held for a role.
type Invalidator interface {
	InvalidateRole(ctx context.Context, roleID string) error
}

// Service orchestrates role administration.
type Service struct {
	repo        AdminPort
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService constructs a Service. invalidator may be nil.
func NewService(repo AdminPort, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, logger: logger}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// RolePermissions lists the entries of a role.
func (s *Service) RolePermissions(ctx context.Context, roleID string) ([]PermissionEntry, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, ErrNotFound
	}
	return s.repo.RolePermissions(ctx, roleID)
}

// SetRolePermissions replaces the entries of a role. Each module may appear
// once. Client caches holding the role are invalidated afterwards; a failure
// to schedule that is logged, not returned.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, entries []PermissionEntry) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return ErrNotFound
	}
	seen := make(map[string]struct{}, len(entries))
	normalized := make([]PermissionEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Module.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownModule, entry.Module)
		}
		if _, dup := seen[string(entry.Module)]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateModule, entry.Module)
		}
		seen[string(entry.Module)] = struct{}{}
		normalized = append(normalized, PermissionEntry{RoleID: roleID, Module: entry.Module, Allowed: entry.Allowed})
	}
	if err := s.repo.ReplaceRolePermissions(ctx, roleID, normalized); err != nil {
		return err
	}
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateRole(ctx, roleID); err != nil {
			s.logger.Warn("schedule role cache invalidation", slog.String("role_id", roleID), slog.Any("error", err))
		}
	}
	return nil
}

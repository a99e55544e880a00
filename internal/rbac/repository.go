package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/platform/db"
)

const uniqueViolation = "23505"

// LookupPort is the read side used by the resolver and the access gate.
type LookupPort interface {
	// RoleForUser returns the single role of a user within a company.
	RoleForUser(ctx context.Context, userID, companyID string) (string, error)
	// RolePermissions lists every entry of a role.
	RolePermissions(ctx context.Context, roleID string) ([]PermissionEntry, error)
	// ModulePermission returns the entry of one module, or ErrNotFound.
	ModulePermission(ctx context.Context, roleID string, module modules.Key) (PermissionEntry, error)
}

// AdminPort is the write side used by role administration.
type AdminPort interface {
	LookupPort
	ListRoles(ctx context.Context) ([]Role, error)
	ReplaceRolePermissions(ctx context.Context, roleID string, entries []PermissionEntry) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RoleForUser reads user_roles. Zero rows yield ErrRoleNotFound, more than
// one yield ErrAmbiguousRole.
func (r *Repository) RoleForUser(ctx context.Context, userID, companyID string) (string, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 AND company_id = $2 LIMIT 2`, userID, companyID)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var roleIDs []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return "", err
		}
		roleIDs = append(roleIDs, roleID)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(roleIDs) {
	case 0:
		return "", ErrRoleNotFound
	case 1:
		return roleIDs[0], nil
	default:
		return "", ErrAmbiguousRole
	}
}

// RolePermissions lists entries in insertion order.
func (r *Repository) RolePermissions(ctx context.Context, roleID string) ([]PermissionEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT module_key, allowed FROM role_module_permissions WHERE role_id = $1 ORDER BY id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []PermissionEntry
	for rows.Next() {
		entry := PermissionEntry{RoleID: roleID}
		var module string
		if err := rows.Scan(&module, &entry.Allowed); err != nil {
			return nil, err
		}
		entry.Module = modules.Key(module)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ModulePermission reads one entry.
func (r *Repository) ModulePermission(ctx context.Context, roleID string, module modules.Key) (PermissionEntry, error) {
	entry := PermissionEntry{RoleID: roleID, Module: module}
	err := r.pool.QueryRow(ctx, `SELECT allowed FROM role_module_permissions WHERE role_id = $1 AND module_key = $2`, roleID, string(module)).Scan(&entry.Allowed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionEntry{}, ErrNotFound
		}
		return PermissionEntry{}, err
	}
	return entry, nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// ReplaceRolePermissions swaps the entries of a role in one transaction.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID string, entries []PermissionEntry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_module_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("rbac: clear role permissions: %w", err)
		}
		batch := &pgx.Batch{}
		for _, entry := range entries {
			batch.Queue(`INSERT INTO role_module_permissions (role_id, module_key, allowed) VALUES ($1, $2, $3)`, roleID, string(entry.Module), entry.Allowed)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrDuplicateModule
			}
			return fmt.Errorf("rbac: insert role permissions: %w", err)
		}
		return nil
	})
}

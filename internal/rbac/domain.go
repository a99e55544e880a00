package rbac

import (
	"errors"
	"time"

	"github.com/odyssey-erp/stockdesk/internal/modules"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrRoleNotFound indicates that no role is mapped to the user in the company.
	ErrRoleNotFound = errors.New("rbac: no role for user")
	// ErrAmbiguousRole indicates that more than one role is mapped to the user in the company.
	ErrAmbiguousRole = errors.New("rbac: multiple roles for user")
	// ErrDuplicateModule indicates a module listed twice for one role.
	ErrDuplicateModule = errors.New("rbac: duplicate module")
	// ErrUnknownModule indicates a module key outside the known set.
	ErrUnknownModule = errors.New("rbac: unknown module")
)

// Role groups module permissions. Its ID is opaque.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PermissionEntry grants or withholds one module for one role.
type PermissionEntry struct {
	RoleID  string      `json:"role_id"`
	Module  modules.Key `json:"module"`
	Allowed bool        `json:"allowed"`
}

// UserRole links a user to a role within a company.
type UserRole struct {
	UserID    string
	CompanyID string
	RoleID    string
}

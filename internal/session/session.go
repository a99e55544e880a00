// Package session derives the current user from persisted client storage.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockdesk/internal/clientstore"
)

// ErrNoStorage indicates the request carries no client storage.
var ErrNoStorage = errors.New("session: no client storage")

// User is the identity persisted for a signed-in client.
type User struct {
	ID        string `json:"id" validate:"required"`
	CompanyID string `json:"company_id" validate:"required"`
	// RoleID is optional; it may be resolved lazily.
	RoleID string `json:"role_id,omitempty"`
	// Raw is the upstream user payload as received at sign-in.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Context reads and writes the current user in client storage.
type Context struct {
	logger   *slog.Logger
	validate *validator.Validate
}

// New constructs a Context.
func New(logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{logger: logger, validate: validator.New()}
}

// CurrentUser returns the signed-in user, or nil. Absent, malformed and
// invalid payloads all yield nil; none of them is returned as an error.
func (c *Context) CurrentUser(ctx context.Context) *User {
	store := clientstore.FromContext(ctx)
	if store == nil {
		return nil
	}
	raw, ok, err := store.Get(ctx, clientstore.KeyCurrentUser)
	if err != nil {
		c.logger.Warn("session read", slog.Any("error", err))
		return nil
	}
	if !ok {
		return nil
	}
	user, err := c.decode(raw)
	if err != nil {
		c.logger.Warn("session payload discarded", slog.Any("error", err))
		return nil
	}
	return user
}

// Establish validates and persists user as the current session.
func (c *Context) Establish(ctx context.Context, user User) (*User, error) {
	store := clientstore.FromContext(ctx)
	if store == nil {
		return nil, ErrNoStorage
	}
	user.ID = strings.TrimSpace(user.ID)
	user.CompanyID = strings.TrimSpace(user.CompanyID)
	user.RoleID = strings.TrimSpace(user.RoleID)
	if err := c.validate.Struct(user); err != nil {
		return nil, fmt.Errorf("session: invalid user: %w", err)
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	if err := store.Set(ctx, clientstore.KeyCurrentUser, string(payload)); err != nil {
		return nil, fmt.Errorf("session: persist: %w", err)
	}
	return &user, nil
}

// Destroy removes the current session. It is safe to call when no session exists.
func (c *Context) Destroy(ctx context.Context) error {
	store := clientstore.FromContext(ctx)
	if store == nil {
		return nil
	}
	return store.Delete(ctx, clientstore.KeyCurrentUser)
}

func (c *Context) decode(raw string) (*User, error) {
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(user); err != nil {
		return nil, err
	}
	return &user, nil
}

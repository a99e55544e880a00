package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stockdesk/internal/permstore"
	"github.com/odyssey-erp/stockdesk/internal/session"
)

// RoleLookup finds the role assigned to a user within a company.
type RoleLookup interface {
	RoleFor(ctx context.Context, store *permstore.Store, userID, companyID string) (string, bool)
}

// Service binds upstream sign-ins to the client session.
type Service struct {
	sessions *session.Context
	roles    RoleLookup
	logger   *slog.Logger
}

// NewService constructs a Service. Without roles, sessions carry no role id
// and access checks resolve it on demand.
func NewService(sessions *session.Context, roles RoleLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, roles: roles, logger: logger}
}

// SignIn records user as the current session. The role id is always taken
// from the role tables; a role id supplied by the client is ignored.
// Permission caches left by a different identity or role are dropped first.
func (s *Service) SignIn(ctx context.Context, user session.User) (*session.User, error) {
	claimed := strings.TrimSpace(user.RoleID)
	user.RoleID = ""
	if s.roles != nil {
		if roleID, ok := s.roles.RoleFor(ctx, nil, strings.TrimSpace(user.ID), strings.TrimSpace(user.CompanyID)); ok {
			user.RoleID = roleID
		}
	}
	if claimed != "" && claimed != user.RoleID {
		s.logger.Warn("ignore client supplied role",
			slog.String("user_id", user.ID),
			slog.String("claimed_role_id", claimed),
			slog.String("role_id", user.RoleID))
	}
	if store := permstore.FromContext(ctx, s.logger); store != nil && s.staleCache(ctx, store, user) {
		if err := store.Clear(ctx); err != nil {
			s.logger.Warn("clear permission cache", slog.Any("error", err))
		}
	}
	return s.sessions.Establish(ctx, user)
}

func (s *Service) staleCache(ctx context.Context, store *permstore.Store, user session.User) bool {
	prev := s.sessions.CurrentUser(ctx)
	if prev == nil || prev.ID != strings.TrimSpace(user.ID) || prev.CompanyID != strings.TrimSpace(user.CompanyID) {
		return true
	}
	if snapshot := store.Read(ctx); snapshot != nil && snapshot.RoleID != user.RoleID {
		return true
	}
	cached := store.RoleID(ctx)
	return cached != "" && cached != user.RoleID
}

// SignOut clears the permission cache and destroys the session. Both steps
// run even when the first fails.
func (s *Service) SignOut(ctx context.Context) error {
	var errs []error
	if store := permstore.FromContext(ctx, s.logger); store != nil {
		errs = append(errs, store.Clear(ctx))
	}
	errs = append(errs, s.sessions.Destroy(ctx))
	return errors.Join(errs...)
}

// Current returns the signed-in user, or nil.
func (s *Service) Current(ctx context.Context) *session.User {
	return s.sessions.CurrentUser(ctx)
}

// Package users manages the people known to this install: listing
// them, changing their role and removing them.
package users

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
)

// MaxPageSize caps list page sizes.
const MaxPageSize = 100

// Store is the user persistence. *state.State satisfies it.
type Store interface {
	GetUser(id string) (*models.User, error)
	ListUsers(offset, limit int) ([]models.User, int, error)
	SetUserRole(id string, role *models.Role, now time.Time) error
	DeleteUser(id string) error
}

// SessionRevoker ends every session a user holds.
type SessionRevoker interface {
	DestroyAllForUser(ctx context.Context, userID string) (int, error)
}

// Actor is the manager or admin performing a change.
type Actor struct {
	UserID string
	Role   *models.Role
}

// Service manages users.
type Service struct {
	store    Store
	sessions SessionRevoker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a user management service.
func NewService(store Store, sessions SessionRevoker, logger *slog.Logger) *Service {
	return &Service{store: store, sessions: sessions, logger: logger, now: time.Now}
}

// List returns a page of users ordered by username. page is 1-based.
func (s *Service) List(_ context.Context, page, pageSize int) ([]models.User, int, error) {
	if page < 1 {
		page = 1
	}

	if pageSize < 1 {
		pageSize = 30
	}

	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	us, total, err := s.store.ListUsers((page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: listing users: %w", apperrors.ErrStore, err)
	}

	return us, total, nil
}

// ChangeRole assigns role to the target user and ends their sessions.
// Managers may not touch users ranked above them or hand out a role
// above their own.
func (s *Service) ChangeRole(ctx context.Context, actor Actor, targetID string, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, models.ErrInvalidRole)
	}

	target, err := s.checkTarget(actor, targetID)
	if err != nil {
		return nil, err
	}

	if !actor.Role.HasAccessTo(role) {
		return nil, apperrors.ErrInsufficientPrivileges
	}

	now := s.now()
	if err := s.store.SetUserRole(targetID, &role, now); err != nil {
		return nil, storeErr(err)
	}

	target.Role = &role
	target.UpdatedAt = now

	s.logger.Info("users: role changed",
		slog.String("user_id", targetID),
		slog.String("role", role.String()),
		slog.String("actor", actor.UserID),
	)

	s.revokeSessions(ctx, targetID)

	return target, nil
}

// Remove deletes the target user and ends their sessions. Their API
// tokens stop validating because the owner no longer exists.
func (s *Service) Remove(ctx context.Context, actor Actor, targetID string) error {
	if _, err := s.checkTarget(actor, targetID); err != nil {
		return err
	}

	if err := s.store.DeleteUser(targetID); err != nil {
		return storeErr(err)
	}

	s.logger.Info("users: user removed",
		slog.String("user_id", targetID),
		slog.String("actor", actor.UserID),
	)

	s.revokeSessions(ctx, targetID)

	return nil
}

func (s *Service) checkTarget(actor Actor, targetID string) (*models.User, error) {
	if actor.Role == nil || !actor.Role.HasAccessTo(models.RoleManager) {
		return nil, apperrors.ErrForbidden
	}

	if actor.UserID == targetID {
		return nil, apperrors.ErrSelfModify
	}

	target, err := s.store.GetUser(targetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	if target == nil {
		return nil, apperrors.ErrUserNotFound
	}

	if target.Role != nil && !actor.Role.HasAccessTo(*target.Role) {
		return nil, apperrors.ErrInsufficientPrivileges
	}

	return target, nil
}

// revokeSessions is best-effort; the change is already committed.
func (s *Service) revokeSessions(ctx context.Context, userID string) {
	if _, err := s.sessions.DestroyAllForUser(ctx, userID); err != nil {
		s.logger.Warn("users: ending sessions failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func storeErr(err error) error {
	if apperrors.As(err) != nil {
		return err
	}

	return fmt.Errorf("%w: %w", apperrors.ErrStore, err)
}

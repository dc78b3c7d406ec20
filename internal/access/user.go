// Package access implements the human-reviewed access request
// workflows: users asking for a role on this install, and third-party
// apps asking for delegated access to a user's resources.
package access

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

// UserStore is the persistence the user-level workflow needs.
// *state.State satisfies it.
type UserStore interface {
	CreateUserAccessRequest(userID, username string, now time.Time) (*models.UserAccessRequest, error)
	PendingUserAccessRequest(userID string) (*models.UserAccessRequest, error)
	ListUserAccessRequests(pendingOnly bool, offset, limit int) ([]models.UserAccessRequest, int, error)
	DecideUserAccessRequest(id int64, status models.RequestStatus, reviewer string, role *models.Role, now time.Time) (*models.UserAccessRequest, error)
}

// SessionRevoker ends every session a user holds.
type SessionRevoker interface {
	DestroyAllForUser(ctx context.Context, userID string) (int, error)
}

// Reviewer is the session user acting on a request.
type Reviewer struct {
	UserID   string
	Username string
	Role     *models.Role
}

// UserRequests runs the user-level access request workflow.
type UserRequests struct {
	store    UserStore
	sessions SessionRevoker
	logger   *slog.Logger
	now      func() time.Time
}

// NewUserRequests returns the user-level workflow.
func NewUserRequests(store UserStore, sessions SessionRevoker, logger *slog.Logger) *UserRequests {
	return &UserRequests{store: store, sessions: sessions, logger: logger, now: time.Now}
}

// Request files a pending request for a user who has no role yet.
func (u *UserRequests) Request(_ context.Context, userID, username string, role *models.Role) (*models.UserAccessRequest, error) {
	if role != nil {
		return nil, apperrors.ErrAlreadyHasAccess
	}

	r, err := u.store.CreateUserAccessRequest(userID, username, u.now())
	if err != nil {
		return nil, storeErr(err)
	}

	u.logger.Info("access: user requested access",
		slog.String("user_id", userID),
		slog.Int64("request_id", r.ID),
	)

	return r, nil
}

// Status returns the caller's own pending request.
func (u *UserRequests) Status(_ context.Context, userID string) (*models.UserAccessRequest, error) {
	r, err := u.store.PendingUserAccessRequest(userID)
	if err != nil {
		return nil, storeErr(err)
	}

	if r == nil {
		return nil, apperrors.ErrPendingRequestNotFound
	}

	return r, nil
}

// List pages through requests, pending only or all. page is 1-based.
func (u *UserRequests) List(_ context.Context, pendingOnly bool, page, pageSize int) ([]models.UserAccessRequest, int, error) {
	page, pageSize = NormalizePage(page, pageSize)

	rs, total, err := u.store.ListUserAccessRequests(pendingOnly, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, storeErr(err)
	}

	return rs, total, nil
}

// Approve grants role to the requesting user. The reviewer must be at
// least a manager and may not grant a role above their own. All of the
// user's sessions are ended so the new role takes effect on next login.
func (u *UserRequests) Approve(ctx context.Context, id int64, reviewer Reviewer, granted models.Role) (*models.UserAccessRequest, error) {
	if !granted.Valid() {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, models.ErrInvalidRole)
	}

	if err := checkReviewer(reviewer); err != nil {
		return nil, err
	}

	if !reviewer.Role.HasAccessTo(granted) {
		return nil, apperrors.ErrInsufficientPrivileges
	}

	r, err := u.store.DecideUserAccessRequest(id, models.RequestApproved, reviewer.Username, &granted, u.now())
	if err != nil {
		return nil, storeErr(err)
	}

	u.logger.Info("access: request approved",
		slog.Int64("request_id", id),
		slog.String("user_id", r.UserID),
		slog.String("role", granted.String()),
		slog.String("reviewer", reviewer.Username),
	)

	u.revokeSessions(ctx, r.UserID)

	return r, nil
}

// Reject closes a pending request without granting anything.
func (u *UserRequests) Reject(_ context.Context, id int64, reviewer Reviewer) (*models.UserAccessRequest, error) {
	if err := checkReviewer(reviewer); err != nil {
		return nil, err
	}

	r, err := u.store.DecideUserAccessRequest(id, models.RequestRejected, reviewer.Username, nil, u.now())
	if err != nil {
		return nil, storeErr(err)
	}

	u.logger.Info("access: request rejected",
		slog.Int64("request_id", id),
		slog.String("reviewer", reviewer.Username),
	)

	return r, nil
}

// revokeSessions is best-effort; the role change is already committed.
func (u *UserRequests) revokeSessions(ctx context.Context, userID string) {
	n, err := u.sessions.DestroyAllForUser(ctx, userID)
	if err != nil {
		u.logger.Warn("access: ending sessions failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)

		return
	}

	u.logger.Debug("access: sessions ended", slog.String("user_id", userID), slog.Int("count", n))
}

func checkReviewer(reviewer Reviewer) error {
	if reviewer.Role == nil || !reviewer.Role.HasAccessTo(models.RoleManager) {
		return apperrors.ErrInsufficientPrivileges
	}

	return nil
}

// NormalizePage applies defaults and caps: page starts at 1, page size
// defaults to 30 and is capped at MaxPageSize.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}

	if pageSize < 1 {
		pageSize = 30
	}

	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return page, pageSize
}

// storeErr passes application errors through and tags the rest as
// storage failures.
func storeErr(err error) error {
	if apperrors.As(err) != nil {
		return err
	}

	return fmt.Errorf("%w: %w", apperrors.ErrStore, err)
}

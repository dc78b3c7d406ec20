package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/session"
	"github.com/alexjbarnes/llm-gateway/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rolePtr(r models.Role) *models.Role { return &r }

func testState(t *testing.T) *state.State {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.SetAppStatus(state.AppStatusReady))

	return st
}

type userFixture struct {
	st       *state.State
	sessions *session.Manager
	svc      *UserRequests
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()

	st := testState(t)
	sessions, err := session.NewManager(session.NewBoltStore(st), "0123456789abcdef0123456789abcdef", time.Hour, false, discard())
	require.NoError(t, err)

	svc := NewUserRequests(st, sessions, discard())
	svc.now = func() time.Time { return testNow }

	return &userFixture{st: st, sessions: sessions, svc: svc}
}

func (fx *userFixture) user(t *testing.T, id string, role *models.Role) *models.User {
	t.Helper()

	u, err := fx.st.UpsertUser(id, id, id+"@example.com", testNow)
	require.NoError(t, err)

	if role != nil {
		require.NoError(t, fx.st.SetUserRole(id, role, testNow))
		u.Role = role
	}

	return u
}

var manager = Reviewer{UserID: "mgr", Username: "mgr", Role: rolePtr(models.RoleManager)}

func TestRequest(t *testing.T) {
	fx := newUserFixture(t)
	fx.user(t, "u1", nil)

	r, err := fx.svc.Request(context.Background(), "u1", "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, r.Status)

	_, err = fx.svc.Request(context.Background(), "u1", "u1", nil)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyPending)
	assert.Equal(t, 409, apperrors.StatusOf(err))
}

func TestRequest_AlreadyHasAccess(t *testing.T) {
	fx := newUserFixture(t)

	_, err := fx.svc.Request(context.Background(), "u1", "u1", rolePtr(models.RoleUser))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyHasAccess)
	assert.Equal(t, 422, apperrors.StatusOf(err))
}

func TestStatus(t *testing.T) {
	fx := newUserFixture(t)
	fx.user(t, "u1", nil)

	_, err := fx.svc.Status(context.Background(), "u1")
	assert.ErrorIs(t, err, apperrors.ErrPendingRequestNotFound)

	created, err := fx.svc.Request(context.Background(), "u1", "u1", nil)
	require.NoError(t, err)

	got, err := fx.svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestApprove_GrantsRoleAndEndsSessions(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	u := fx.user(t, "u1", nil)

	sess, err := fx.sessions.Rotate(ctx, nil, u, session.TokenSet{})
	require.NoError(t, err)

	r, err := fx.svc.Request(ctx, "u1", "u1", nil)
	require.NoError(t, err)

	approved, err := fx.svc.Approve(ctx, r.ID, manager, models.RolePowerUser)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, approved.Status)
	assert.Equal(t, "mgr", approved.DecidedBy)

	got, err := fx.st.GetUser("u1")
	require.NoError(t, err)
	require.NotNil(t, got.Role)
	assert.Equal(t, models.RolePowerUser, *got.Role)

	// The role-less session must not survive the approval.
	stale, err := fx.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestApprove_ReviewerLimits(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	fx.user(t, "u1", nil)

	r, err := fx.svc.Request(ctx, "u1", "u1", nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		reviewer Reviewer
		granted  models.Role
	}{
		{"no role", Reviewer{Username: "x"}, models.RoleUser},
		{"power user reviewer", Reviewer{Username: "x", Role: rolePtr(models.RolePowerUser)}, models.RoleUser},
		{"manager grants admin", manager, models.RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.Approve(ctx, r.ID, tt.reviewer, tt.granted)
			assert.ErrorIs(t, err, apperrors.ErrInsufficientPrivileges)
		})
	}

	_, err = fx.svc.Approve(ctx, r.ID, manager, models.Role(0))
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	got, err := fx.st.GetUser("u1")
	require.NoError(t, err)
	assert.Nil(t, got.Role)
}

func TestApprove_AlreadyProcessed(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	fx.user(t, "u1", nil)

	r, err := fx.svc.Request(ctx, "u1", "u1", nil)
	require.NoError(t, err)

	_, err = fx.svc.Reject(ctx, r.ID, manager)
	require.NoError(t, err)

	_, err = fx.svc.Approve(ctx, r.ID, manager, models.RoleUser)
	assert.ErrorIs(t, err, apperrors.ErrRequestAlreadyProcessed)

	_, err = fx.svc.Approve(ctx, 999, manager, models.RoleUser)
	assert.ErrorIs(t, err, apperrors.ErrRequestNotFound)
}

func TestReject_RequiresManager(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	fx.user(t, "u1", nil)

	r, err := fx.svc.Request(ctx, "u1", "u1", nil)
	require.NoError(t, err)

	_, err = fx.svc.Reject(ctx, r.ID, Reviewer{Username: "x", Role: rolePtr(models.RoleUser)})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientPrivileges)

	rejected, err := fx.svc.Reject(ctx, r.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, rejected.Status)

	// A rejected user may ask again.
	_, err = fx.svc.Request(ctx, "u1", "u1", nil)
	assert.NoError(t, err)
}

func TestList(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		fx.user(t, id, nil)
		_, err := fx.svc.Request(ctx, id, id, nil)
		require.NoError(t, err)
	}

	pending, err := fx.svc.Status(ctx, "a")
	require.NoError(t, err)
	_, err = fx.svc.Reject(ctx, pending.ID, manager)
	require.NoError(t, err)

	rs, total, err := fx.svc.List(ctx, true, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, rs, 2)

	rs, total, err = fx.svc.List(ctx, false, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, rs, 2)
}

type failingRevoker struct{}

func (failingRevoker) DestroyAllForUser(context.Context, string) (int, error) {
	return 0, errors.New("store down")
}

func TestApprove_SessionRevokeFailureIsSwallowed(t *testing.T) {
	st := testState(t)
	svc := NewUserRequests(st, failingRevoker{}, discard())

	_, err := st.UpsertUser("u1", "u1", "", testNow)
	require.NoError(t, err)

	r, err := svc.Request(context.Background(), "u1", "u1", nil)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), r.ID, manager, models.RoleUser)
	assert.NoError(t, err)
}

func TestNormalizePage(t *testing.T) {
	p, s := NormalizePage(0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, 30, s)

	_, s = NormalizePage(2, 1000)
	assert.Equal(t, MaxPageSize, s)
}

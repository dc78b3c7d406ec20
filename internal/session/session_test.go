package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boltStore(t *testing.T) Store {
	t.Helper()
	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewBoltStore(st)
}

// stores runs fn against both Store implementations.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("bolt", func(t *testing.T) { fn(t, boltStore(t)) })
}

func testManager(t *testing.T, s Store) *Manager {
	t.Helper()
	m, err := NewManager(s, testSecret, time.Hour, false, testLogger())
	require.NoError(t, err)
	return m
}

func rolePtr(r models.Role) *models.Role { return &r }

// --- Manager ---

func TestManager_NewAndGet(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		m := testManager(t, s)
		ctx := context.Background()

		sess, err := m.New(ctx)
		require.NoError(t, err)
		assert.Len(t, sess.ID, 64)
		assert.False(t, sess.Authenticated())

		got, err := m.Get(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sess.ID, got.ID)
	})
}

func TestManager_GetExpired(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		m := testManager(t, s)
		ctx := context.Background()

		sess, err := m.New(ctx)
		require.NoError(t, err)

		m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		got, err := m.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestManager_RotateDestroysOld(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		m := testManager(t, s)
		ctx := context.Background()

		old, err := m.New(ctx)
		require.NoError(t, err)

		user := &models.User{ID: "u1", Username: "alice", Role: rolePtr(models.RoleUser)}
		fresh, err := m.Rotate(ctx, old, user, TokenSet{AccessToken: "at"})
		require.NoError(t, err)
		assert.NotEqual(t, old.ID, fresh.ID)
		assert.Equal(t, "u1", fresh.UserID)
		assert.Equal(t, "at", fresh.AccessToken)

		got, err := m.Get(ctx, old.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestManager_DestroyAllForUser(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		m := testManager(t, s)
		ctx := context.Background()
		user := &models.User{ID: "u1", Username: "alice"}

		a, err := m.Rotate(ctx, nil, user, TokenSet{})
		require.NoError(t, err)
		b, err := m.Rotate(ctx, nil, user, TokenSet{})
		require.NoError(t, err)
		other, err := m.Rotate(ctx, nil, &models.User{ID: "u2"}, TokenSet{})
		require.NoError(t, err)

		n, err := m.DestroyAllForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, id := range []string{a.ID, b.ID} {
			got, err := m.Get(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, got)
		}

		got, err := m.Get(ctx, other.ID)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestManager_ConsumeOAuthOnce(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		m := testManager(t, s)
		ctx := context.Background()

		sess, err := m.New(ctx)
		require.NoError(t, err)
		sess.CSRFState = "st"
		sess.PKCEVerifier = "ver"
		require.NoError(t, m.Save(ctx, sess))

		tr, ok, err := m.ConsumeOAuth(ctx, sess.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "st", tr.CSRFState)

		_, ok, err = m.ConsumeOAuth(ctx, sess.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_DeleteExpired(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, s.Save(ctx, &models.Session{ID: "a", ExpiresAt: now.Add(-time.Minute)}))
		require.NoError(t, s.Save(ctx, &models.Session{ID: "b", ExpiresAt: now.Add(time.Minute)}))

		n, err := s.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStore_UpdateRole(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, &models.Session{ID: "a", UserID: "u1"}))
		require.NoError(t, s.UpdateRole(ctx, "a", rolePtr(models.RoleAdmin)))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got.Role)
		assert.Equal(t, models.RoleAdmin, *got.Role)
	})
}

func TestStore_UpdateTokens(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		require.NoError(t, s.Save(ctx, &models.Session{ID: "a", UserID: "u1", Role: rolePtr(models.RoleUser), RefreshToken: "rt"}))
		require.NoError(t, s.UpdateRole(ctx, "a", rolePtr(models.RoleManager)))

		got, err := s.UpdateTokens(ctx, "a", TokenSet{AccessToken: "at2", Expiry: exp})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "at2", got.AccessToken)
		assert.Equal(t, "rt", got.RefreshToken)
		assert.True(t, exp.Equal(got.TokenExpiry))
		require.NotNil(t, got.Role)
		assert.Equal(t, models.RoleManager, *got.Role)

		got, err = s.UpdateTokens(ctx, "a", TokenSet{AccessToken: "at3", RefreshToken: "rt2", Expiry: exp})
		require.NoError(t, err)
		assert.Equal(t, "rt2", got.RefreshToken)
	})
}

func TestStore_UpdateTokensMissingSession(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, &models.Session{ID: "a", UserID: "u1"}))

		_, err := s.DestroyAllForUser(ctx, "u1")
		require.NoError(t, err)

		got, err := s.UpdateTokens(ctx, "a", TokenSet{AccessToken: "at", Expiry: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

// --- Cookies ---

func TestCookie_RoundTrip(t *testing.T) {
	m := testManager(t, NewMemoryStore())
	c := m.Cookie("abc123")
	assert.Equal(t, CookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(c)

	id, ok := m.SessionID(r)
	require.True(t, ok)
	assert.Equal(t, "abc123", id)
}

func TestCookie_TamperedRejected(t *testing.T) {
	m := testManager(t, NewMemoryStore())
	c := m.Cookie("abc123")

	for _, v := range []string{
		"abd123" + c.Value[len("abc123"):],
		"abc123",
		"abc123.",
		".sig",
		"",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: v})
		_, ok := m.SessionID(r)
		assert.False(t, ok, "value %q", v)
	}
}

func TestCookie_OtherSecretRejected(t *testing.T) {
	m1 := testManager(t, NewMemoryStore())
	m2, err := NewManager(NewMemoryStore(), "another-secret-another-secret-xx", time.Hour, false, testLogger())
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(m1.Cookie("abc123"))

	_, ok := m2.SessionID(r)
	assert.False(t, ok)
}

func TestClearCookie(t *testing.T) {
	m := testManager(t, NewMemoryStore())
	c := m.ClearCookie()
	assert.Equal(t, -1, c.MaxAge)
	assert.Empty(t, c.Value)
}

func TestRunGC_StopsOnCancel(t *testing.T) {
	m := testManager(t, NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.RunGC(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunGC did not return after cancel")
	}
}

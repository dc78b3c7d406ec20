package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexjbarnes/llm-gateway/internal/models"
	"golang.org/x/crypto/hkdf"
)

const (
	// CookieName is the browser cookie carrying the signed session ID.
	CookieName = "bodhiapp_session"

	// sessionIDBytes is the number of random bytes in a session ID
	// (hex-encoded to twice this length).
	sessionIDBytes = 32

	// cleanupInterval controls how often expired sessions are reaped.
	cleanupInterval = 5 * time.Minute

	cookieKeyInfo = "llm-gateway session cookie v1"
)

// Manager creates, loads and invalidates sessions and encodes them as
// signed cookies.
type Manager struct {
	store  Store
	ttl    time.Duration
	key    []byte
	secure bool
	logger *slog.Logger
	now    func() time.Time
}

// NewManager derives the cookie signing key from secret and returns a
// Manager over store.
func NewManager(store Store, secret string, ttl time.Duration, secure bool, logger *slog.Logger) (*Manager, error) {
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}

	return &Manager{
		store:  store,
		ttl:    ttl,
		key:    key,
		secure: secure,
		logger: logger,
		now:    time.Now,
	}, nil
}

// New creates and stores an empty, unauthenticated session.
func (m *Manager) New(ctx context.Context) (*models.Session, error) {
	now := m.now()
	s := &models.Session{
		ID:        newSessionID(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return s, nil
}

// Rotate replaces old with a fresh session ID carrying the given
// user. The old session is destroyed. old may be nil.
func (m *Manager) Rotate(ctx context.Context, old *models.Session, user *models.User, tok TokenSet) (*models.Session, error) {
	now := m.now()
	s := &models.Session{
		ID:           newSessionID(),
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
	}

	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	if old != nil {
		if err := m.store.Destroy(ctx, old.ID); err != nil {
			m.logger.Warn("session: destroying pre-login session failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return s, nil
}

// TokenSet is the upstream provider tokens held in a session.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Get loads a session. Expired or missing sessions return nil.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	if s == nil || m.now().After(s.ExpiresAt) {
		return nil, nil
	}

	return s, nil
}

// Save writes s back to the store.
func (m *Manager) Save(ctx context.Context, s *models.Session) error {
	return m.store.Save(ctx, s)
}

// UpdateTokens stores refreshed upstream tokens on session id. It never
// recreates a destroyed session: nil is returned when id is gone. An
// empty refresh token keeps the current one.
func (m *Manager) UpdateTokens(ctx context.Context, id string, tok TokenSet) (*models.Session, error) {
	s, err := m.store.UpdateTokens(ctx, id, tok)
	if err != nil {
		return nil, fmt.Errorf("updating session tokens: %w", err)
	}

	return s, nil
}

// ConsumeOAuth atomically reads and clears the pending login values.
func (m *Manager) ConsumeOAuth(ctx context.Context, id string) (OAuthTransient, bool, error) {
	return m.store.ConsumeOAuth(ctx, id)
}

// Destroy removes a single session.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.store.Destroy(ctx, id)
}

// DestroyAllForUser removes every session of userID. Called whenever a
// user's role changes so a stale role cannot outlive the change.
func (m *Manager) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := m.store.DestroyAllForUser(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("destroying sessions for user %s: %w", userID, err)
	}

	m.logger.Debug("session: destroyed user sessions",
		slog.String("user_id", userID),
		slog.Int("count", n),
	)

	return n, nil
}

// RunGC removes expired sessions periodically until ctx is done.
func (m *Manager) RunGC(ctx context.Context) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := m.store.DeleteExpired(ctx, m.now())
			if err != nil {
				m.logger.Warn("session: gc failed", slog.String("error", err.Error()))
				continue
			}

			if n > 0 {
				m.logger.Debug("session: gc removed expired sessions", slog.Int("count", n))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Cookie returns the signed cookie for a session ID.
func (m *Manager) Cookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    id + "." + m.sign(id),
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that removes the session cookie.
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionID extracts and verifies the session ID from the request
// cookie. Tampered or malformed cookies report false.
func (m *Manager) SessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}

	id, sig, ok := strings.Cut(c.Value, ".")
	if !ok || id == "" {
		return "", false
	}

	if !hmac.Equal([]byte(sig), []byte(m.sign(id))) {
		return "", false
	}

	return id, true
}

func (m *Manager) sign(id string) string {
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(id))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func newSessionID() string {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}

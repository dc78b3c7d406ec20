// Package session manages server-side browser sessions: storage,
// signed cookies, expiry and bulk invalidation when a user's role
// changes.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/state"
)

// OAuthTransient holds the login values stored between initiation and
// callback.
type OAuthTransient struct {
	CSRFState    string
	PKCEVerifier string
	CallbackURL  string
}

// Store persists sessions. Implementations must make ConsumeOAuth
// atomic: of two concurrent callers, at most one sees ok == true.
type Store interface {
	Save(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	UpdateRole(ctx context.Context, id string, role *models.Role) error
	UpdateTokens(ctx context.Context, id string, tok TokenSet) (*models.Session, error)
	Destroy(ctx context.Context, id string) error
	DestroyAllForUser(ctx context.Context, userID string) (int, error)
	ConsumeOAuth(ctx context.Context, id string) (OAuthTransient, bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// BoltStore is a Store backed by the state database.
type BoltStore struct {
	st *state.State
}

// NewBoltStore wraps st as a session Store.
func NewBoltStore(st *state.State) *BoltStore {
	return &BoltStore{st: st}
}

func (b *BoltStore) Save(_ context.Context, s *models.Session) error {
	return b.st.SaveSession(*s)
}

func (b *BoltStore) Get(_ context.Context, id string) (*models.Session, error) {
	return b.st.GetSession(id)
}

func (b *BoltStore) UpdateRole(_ context.Context, id string, role *models.Role) error {
	return b.st.UpdateSessionRole(id, role)
}

func (b *BoltStore) UpdateTokens(_ context.Context, id string, tok TokenSet) (*models.Session, error) {
	return b.st.UpdateSessionTokens(id, tok.AccessToken, tok.RefreshToken, tok.Expiry)
}

func (b *BoltStore) Destroy(_ context.Context, id string) error {
	return b.st.DeleteSession(id)
}

func (b *BoltStore) DestroyAllForUser(_ context.Context, userID string) (int, error) {
	return b.st.DeleteUserSessions(userID)
}

func (b *BoltStore) ConsumeOAuth(_ context.Context, id string) (OAuthTransient, bool, error) {
	tr, ok, err := b.st.ConsumeSessionOAuth(id)
	return OAuthTransient(tr), ok, err
}

func (b *BoltStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	return b.st.DeleteExpiredSessions(now)
}

// MemoryStore is an in-memory Store. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Session)}
}

func (m *MemoryStore) Save(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	m.sessions[s.ID] = *s
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}

	return &s, nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, id string, role *models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.Role = role
		m.sessions[id] = s
	}

	return nil
}

func (m *MemoryStore) UpdateTokens(_ context.Context, id string, tok TokenSet) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}

	s.AccessToken = tok.AccessToken
	s.TokenExpiry = tok.Expiry

	if tok.RefreshToken != "" {
		s.RefreshToken = tok.RefreshToken
	}

	m.sessions[id] = s

	return &s, nil
}

func (m *MemoryStore) Destroy(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) DestroyAllForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}

	return n, nil
}

func (m *MemoryStore) ConsumeOAuth(_ context.Context, id string) (OAuthTransient, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.CSRFState == "" || s.PKCEVerifier == "" {
		return OAuthTransient{}, false, nil
	}

	tr := OAuthTransient{CSRFState: s.CSRFState, PKCEVerifier: s.PKCEVerifier, CallbackURL: s.CallbackURL}
	s.CSRFState, s.PKCEVerifier, s.CallbackURL = "", "", ""
	m.sessions[id] = s

	return tr, true, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}

	return n, nil
}

// Package apps is the authorization server for third-party apps. Apps
// register as clients, obtain a human-approved access request, then
// run an authorization code flow with PKCE to receive an app token.
// Every app token is re-checked against its access request on use.
package apps

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"
)

const (
	// codeExpiry is how long an authorization code stays redeemable.
	codeExpiry = 5 * time.Minute

	// cleanupInterval controls how often expired codes and tokens are reaped.
	cleanupInterval = 5 * time.Minute

	// codeBytes is the number of random bytes in an authorization code.
	codeBytes = 32
)

// Code is a pending authorization code.
type Code struct {
	Code            string
	ClientID        string
	RedirectURI     string
	CodeChallenge   string
	UserID          string
	AccessRequestID string
	ExpiresAt       time.Time
}

// CodeStore holds authorization codes in memory. Codes are single use
// and short lived, so they are not persisted.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]*Code
	now   func() time.Time
}

// NewCodeStore creates an empty code store.
func NewCodeStore() *CodeStore {
	return &CodeStore{codes: make(map[string]*Code), now: time.Now}
}

// Save stores an authorization code.
func (s *CodeStore) Save(c *Code) {
	s.mu.Lock()
	s.codes[c.Code] = c
	s.mu.Unlock()
}

// Consume retrieves and deletes a code. Returns nil if not found or
// expired.
func (s *CodeStore) Consume(code string) *Code {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil
	}

	delete(s.codes, code)

	if s.now().After(c.ExpiresAt) {
		return nil
	}

	return c
}

// Len returns the number of stored codes.
func (s *CodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.codes)
}

func (s *CodeStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.codes {
		if now.After(c.ExpiresAt) {
			delete(s.codes, k)
		}
	}
}

// RunGC reaps expired codes and app tokens until ctx is cancelled.
func (s *Service) RunGC(ctx context.Context) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.codes.cleanup()

			n, err := s.store.DeleteExpiredAppTokens(s.now())
			if err != nil {
				s.logger.Warn("apps: app token cleanup failed", slog.String("error", err.Error()))
				continue
			}

			if n > 0 {
				s.logger.Debug("apps: expired app tokens removed", slog.Int("count", n))
			}
		}
	}
}

// randomString returns n random bytes, base64url encoded.
func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return base64.RawURLEncoding.EncodeToString(b)
}

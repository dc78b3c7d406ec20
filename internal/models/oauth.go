// Package models defines types shared across internal packages.
package models

import "time"

// OAuthClient represents a dynamically registered third-party application.
type OAuthClient struct {
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	CreatedAt    time.Time `json:"created_at"`
}

// AppToken is an access token issued to an external application. Only
// the SHA-256 digest of the token is persisted.
type AppToken struct {
	TokenDigest     string    `json:"token_digest"`
	UserID          string    `json:"user_id"`
	ClientID        string    `json:"client_id"`
	AccessRequestID string    `json:"access_request_id"`
	Scope           UserScope `json:"scope"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// User is a person known to the gateway through the identity provider.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Role      *Role     `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is a server-side browser session. The OAuth fields are
// transient and only populated between login initiation and callback.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	Role         *Role     `json:"role,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
	PKCEVerifier string    `json:"pkce_verifier,omitempty"`
	CSRFState    string    `json:"csrf_state,omitempty"`
	CallbackURL  string    `json:"callback_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Authenticated reports whether the session belongs to a logged-in user.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// TokenStatus is the lifecycle state of an API token.
type TokenStatus string

const (
	TokenActive   TokenStatus = "active"
	TokenInactive TokenStatus = "inactive"
)

// APIToken is a long-lived programmatic credential. The plaintext is
// shown to the user once at creation and never stored.
type APIToken struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Name        string      `json:"name"`
	TokenDigest string      `json:"token_digest"`
	Scope       TokenScope  `json:"scope"`
	Status      TokenStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

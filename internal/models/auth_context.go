package models

// AuthContext is the resolved identity of a request. It is a closed set:
// the only implementations are the four variants below, and callers
// are expected to switch over all of them.
type AuthContext interface {
	authContext()
}

// Anonymous is a request that presented no valid credentials.
type Anonymous struct{}

// SessionAuth is a browser request authenticated by a session cookie.
// Role is nil for a logged-in user who has not been granted access yet.
type SessionAuth struct {
	UserID   string
	Username string
	Role     *Role
	Token    string
}

// APITokenAuth is a request authenticated by a gateway-issued API token.
type APITokenAuth struct {
	UserID string
	Scope  TokenScope
	Token  string
}

// ExternalAppAuth is a request made by a third-party application on
// behalf of a user, under an approved access request.
type ExternalAppAuth struct {
	UserID          string
	Scope           UserScope
	Token           string
	ClientID        string
	AccessRequestID string
}

func (Anonymous) authContext()       {}
func (SessionAuth) authContext()     {}
func (APITokenAuth) authContext()    {}
func (ExternalAppAuth) authContext() {}

// UserIDOf returns the user behind ac, or "" for anonymous requests.
func UserIDOf(ac AuthContext) string {
	switch v := ac.(type) {
	case SessionAuth:
		return v.UserID
	case APITokenAuth:
		return v.UserID
	case ExternalAppAuth:
		return v.UserID
	case Anonymous:
		return ""
	}

	return ""
}

// IsAuthenticated reports whether ac carries any identity at all.
func IsAuthenticated(ac AuthContext) bool {
	switch ac.(type) {
	case SessionAuth, APITokenAuth, ExternalAppAuth:
		return true
	case Anonymous:
		return false
	}

	return false
}

// Kind names the variant for logging and API responses.
func Kind(ac AuthContext) string {
	switch ac.(type) {
	case SessionAuth:
		return "session"
	case APITokenAuth:
		return "api_token"
	case ExternalAppAuth:
		return "external_app"
	case Anonymous:
		return "anonymous"
	}

	return "anonymous"
}

package models

import (
	"errors"
	"fmt"
)

// Role is a user's rank within the gateway. Roles are totally ordered:
// a higher role holds every permission of the roles below it. The zero
// value is not a valid role.
type Role uint8

const (
	RoleUser Role = iota + 1
	RolePowerUser
	RoleManager
	RoleAdmin
)

// allRoles lists every role, lowest first.
var allRoles = []Role{RoleUser, RolePowerUser, RoleManager, RoleAdmin}

// ErrInvalidRole is returned when a role string does not name a known role.
var ErrInvalidRole = errors.New("invalid role")

// ErrInvalidScope is returned when a scope string does not name a known scope.
var ErrInvalidScope = errors.New("invalid scope")

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleAdmin
}

// HasAccessTo reports whether r is at or above other.
func (r Role) HasAccessTo(other Role) bool {
	return r.Valid() && other.Valid() && r >= other
}

// IncludedRoles returns r and every role below it, highest first.
func (r Role) IncludedRoles() []Role {
	if !r.Valid() {
		return nil
	}

	out := make([]Role, 0, len(allRoles))
	for i := len(allRoles) - 1; i >= 0; i-- {
		if allRoles[i] <= r {
			out = append(out, allRoles[i])
		}
	}

	return out
}

// MaxUserScope is the highest delegated scope a user of this role may
// grant to a third-party application.
func (r Role) MaxUserScope() UserScope {
	if r == RoleUser {
		return UserScopeUser
	}

	return UserScopePowerUser
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "resource_user"
	case RolePowerUser:
		return "resource_power_user"
	case RoleManager:
		return "resource_manager"
	case RoleAdmin:
		return "resource_admin"
	}

	return fmt.Sprintf("Role(%d)", uint8(r))
}

// ParseRole parses a wire role string. Matching is exact.
func ParseRole(s string) (Role, error) {
	for _, r := range allRoles {
		if r.String() == s {
			return r, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// MarshalText encodes the role as its wire string.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, uint8(r))
	}

	return []byte(r.String()), nil
}

// UnmarshalText decodes a wire role string.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}

// TokenScope is the authority level carried by an API token.
type TokenScope uint8

const (
	TokenScopeUser TokenScope = iota + 1
	TokenScopePowerUser
)

func (s TokenScope) String() string {
	switch s {
	case TokenScopeUser:
		return "scope_token_user"
	case TokenScopePowerUser:
		return "scope_token_power_user"
	}

	return fmt.Sprintf("TokenScope(%d)", uint8(s))
}

// Valid reports whether s is one of the defined token scopes.
func (s TokenScope) Valid() bool {
	return s == TokenScopeUser || s == TokenScopePowerUser
}

// IncludedScopes returns s and every scope it implies, highest first.
func (s TokenScope) IncludedScopes() []TokenScope {
	switch s {
	case TokenScopePowerUser:
		return []TokenScope{TokenScopePowerUser, TokenScopeUser}
	case TokenScopeUser:
		return []TokenScope{TokenScopeUser}
	}

	return nil
}

// HasAccessTo reports whether s implies other.
func (s TokenScope) HasAccessTo(other TokenScope) bool {
	for _, inc := range s.IncludedScopes() {
		if inc == other {
			return true
		}
	}

	return false
}

// ParseTokenScope parses a wire token scope string. Matching is exact.
func ParseTokenScope(v string) (TokenScope, error) {
	switch v {
	case "scope_token_user":
		return TokenScopeUser, nil
	case "scope_token_power_user":
		return TokenScopePowerUser, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidScope, v)
}

// MarshalText encodes the scope as its wire string.
func (s TokenScope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScope, uint8(s))
	}

	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire token scope string.
func (s *TokenScope) UnmarshalText(b []byte) error {
	parsed, err := ParseTokenScope(string(b))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// UserScope is the authority level delegated to an external application.
type UserScope uint8

const (
	UserScopeUser UserScope = iota + 1
	UserScopePowerUser
)

func (s UserScope) String() string {
	switch s {
	case UserScopeUser:
		return "scope_user_user"
	case UserScopePowerUser:
		return "scope_user_power_user"
	}

	return fmt.Sprintf("UserScope(%d)", uint8(s))
}

// Valid reports whether s is one of the defined user scopes.
func (s UserScope) Valid() bool {
	return s == UserScopeUser || s == UserScopePowerUser
}

// IncludedScopes returns s and every scope it implies, highest first.
func (s UserScope) IncludedScopes() []UserScope {
	switch s {
	case UserScopePowerUser:
		return []UserScope{UserScopePowerUser, UserScopeUser}
	case UserScopeUser:
		return []UserScope{UserScopeUser}
	}

	return nil
}

// HasAccessTo reports whether s implies other.
func (s UserScope) HasAccessTo(other UserScope) bool {
	for _, inc := range s.IncludedScopes() {
		if inc == other {
			return true
		}
	}

	return false
}

// ParseUserScope parses a wire user scope string. Matching is exact.
func ParseUserScope(v string) (UserScope, error) {
	switch v {
	case "scope_user_user":
		return UserScopeUser, nil
	case "scope_user_power_user":
		return UserScopePowerUser, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidScope, v)
}

// MarshalText encodes the scope as its wire string.
func (s UserScope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScope, uint8(s))
	}

	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire user scope string.
func (s *UserScope) UnmarshalText(b []byte) error {
	parsed, err := ParseUserScope(string(b))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

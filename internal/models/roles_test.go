package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Role ---

func TestRole_Ordering(t *testing.T) {
	assert.True(t, RoleUser < RolePowerUser)
	assert.True(t, RolePowerUser < RoleManager)
	assert.True(t, RoleManager < RoleAdmin)
}

func TestRole_HasAccessTo(t *testing.T) {
	for _, a := range allRoles {
		for _, b := range allRoles {
			assert.Equal(t, a >= b, a.HasAccessTo(b), "%s -> %s", a, b)
		}
	}
}

func TestRole_HasAccessTo_ZeroValue(t *testing.T) {
	var zero Role
	assert.False(t, zero.HasAccessTo(RoleUser))
	assert.False(t, RoleAdmin.HasAccessTo(zero))
}

func TestRole_IncludedRoles(t *testing.T) {
	assert.Equal(t, []Role{RoleAdmin, RoleManager, RolePowerUser, RoleUser}, RoleAdmin.IncludedRoles())
	assert.Equal(t, []Role{RolePowerUser, RoleUser}, RolePowerUser.IncludedRoles())
	assert.Equal(t, []Role{RoleUser}, RoleUser.IncludedRoles())
	assert.Nil(t, Role(0).IncludedRoles())
}

func TestRole_IncludedRolesMatchesHasAccessTo(t *testing.T) {
	for _, r := range allRoles {
		for _, inc := range r.IncludedRoles() {
			assert.True(t, r.HasAccessTo(inc))
		}
	}
}

func TestParseRole_Valid(t *testing.T) {
	tests := map[string]Role{
		"resource_user":       RoleUser,
		"resource_power_user": RolePowerUser,
		"resource_manager":    RoleManager,
		"resource_admin":      RoleAdmin,
	}
	for in, want := range tests {
		got, err := ParseRole(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseRole_RejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "admin", "Resource_Admin", "resource_admin ", "resource_superuser"} {
		_, err := ParseRole(in)
		assert.ErrorIs(t, err, ErrInvalidRole, "input %q", in)
	}
}

func TestRole_MaxUserScope(t *testing.T) {
	assert.Equal(t, UserScopeUser, RoleUser.MaxUserScope())
	assert.Equal(t, UserScopePowerUser, RolePowerUser.MaxUserScope())
	assert.Equal(t, UserScopePowerUser, RoleManager.MaxUserScope())
	assert.Equal(t, UserScopePowerUser, RoleAdmin.MaxUserScope())
}

func TestRole_JSON(t *testing.T) {
	r := RoleManager
	data, err := json.Marshal(struct {
		Role *Role `json:"role"`
	}{&r})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"resource_manager"}`, string(data))

	var out struct {
		Role *Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Role)
	assert.Equal(t, RoleManager, *out.Role)

	err = json.Unmarshal([]byte(`{"role":"resource_owner"}`), &out)
	assert.Error(t, err)
}

// --- Scopes ---

func TestTokenScope_Included(t *testing.T) {
	assert.True(t, TokenScopePowerUser.HasAccessTo(TokenScopeUser))
	assert.True(t, TokenScopePowerUser.HasAccessTo(TokenScopePowerUser))
	assert.True(t, TokenScopeUser.HasAccessTo(TokenScopeUser))
	assert.False(t, TokenScopeUser.HasAccessTo(TokenScopePowerUser))
	assert.False(t, TokenScope(0).HasAccessTo(TokenScopeUser))
}

func TestParseTokenScope(t *testing.T) {
	s, err := ParseTokenScope("scope_token_power_user")
	require.NoError(t, err)
	assert.Equal(t, TokenScopePowerUser, s)

	for _, in := range []string{"", "scope_token_admin", "scope_user_user", "SCOPE_TOKEN_USER"} {
		_, err := ParseTokenScope(in)
		assert.ErrorIs(t, err, ErrInvalidScope, "input %q", in)
	}
}

func TestUserScope_Included(t *testing.T) {
	assert.True(t, UserScopePowerUser.HasAccessTo(UserScopeUser))
	assert.False(t, UserScopeUser.HasAccessTo(UserScopePowerUser))
}

func TestParseUserScope(t *testing.T) {
	s, err := ParseUserScope("scope_user_user")
	require.NoError(t, err)
	assert.Equal(t, UserScopeUser, s)

	for _, in := range []string{"", "scope_user_manager", "scope_token_user"} {
		_, err := ParseUserScope(in)
		assert.ErrorIs(t, err, ErrInvalidScope, "input %q", in)
	}
}

func TestScope_MarshalInvalidFails(t *testing.T) {
	_, err := json.Marshal(TokenScope(9))
	assert.Error(t, err)

	_, err = json.Marshal(UserScope(0))
	assert.Error(t, err)
}

// --- AuthContext ---

func TestUserIDOf(t *testing.T) {
	assert.Equal(t, "", UserIDOf(Anonymous{}))
	assert.Equal(t, "u1", UserIDOf(SessionAuth{UserID: "u1"}))
	assert.Equal(t, "u2", UserIDOf(APITokenAuth{UserID: "u2"}))
	assert.Equal(t, "u3", UserIDOf(ExternalAppAuth{UserID: "u3"}))
}

func TestIsAuthenticated(t *testing.T) {
	assert.False(t, IsAuthenticated(Anonymous{}))
	assert.True(t, IsAuthenticated(SessionAuth{UserID: "u1"}))
	assert.True(t, IsAuthenticated(APITokenAuth{UserID: "u1"}))
	assert.True(t, IsAuthenticated(ExternalAppAuth{UserID: "u1"}))
}

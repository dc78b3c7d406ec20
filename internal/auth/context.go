// Package auth resolves the caller's identity for every request and
// enforces role and scope policies on routes.
package auth

import (
	"context"

	"github.com/alexjbarnes/llm-gateway/internal/models"
)

type contextKey int

const ctxAuth contextKey = iota

// WithAuthContext returns ctx carrying ac.
func WithAuthContext(ctx context.Context, ac models.AuthContext) context.Context {
	return context.WithValue(ctx, ctxAuth, ac)
}

// FromContext returns the resolved identity, or Anonymous when the
// request never passed through the resolver.
func FromContext(ctx context.Context) models.AuthContext {
	if ac, ok := ctx.Value(ctxAuth).(models.AuthContext); ok && ac != nil {
		return ac
	}

	return models.Anonymous{}
}

// EffectiveRole maps any identity onto the role ladder. API token and
// app scopes map to the user or power user role they stand for.
// Anonymous callers and sessions without a role have none.
func EffectiveRole(ac models.AuthContext) (models.Role, bool) {
	switch a := ac.(type) {
	case models.SessionAuth:
		if a.Role == nil {
			return 0, false
		}

		return *a.Role, true
	case models.APITokenAuth:
		switch a.Scope {
		case models.TokenScopeUser:
			return models.RoleUser, true
		case models.TokenScopePowerUser:
			return models.RolePowerUser, true
		}

		return 0, false
	case models.ExternalAppAuth:
		switch a.Scope {
		case models.UserScopeUser:
			return models.RoleUser, true
		case models.UserScopePowerUser:
			return models.RolePowerUser, true
		}

		return 0, false
	case models.Anonymous:
		return 0, false
	default:
		return 0, false
	}
}

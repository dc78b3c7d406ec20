package auth

import (
	"log/slog"
	"net/http"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
)

// Policy decides whether an identity may use a route.
type Policy func(models.AuthContext) error

// SessionOnly admits any logged-in browser session, including one
// whose user has no role yet.
func SessionOnly() Policy {
	return func(ac models.AuthContext) error {
		switch ac.(type) {
		case models.SessionAuth:
			return nil
		case models.APITokenAuth, models.ExternalAppAuth:
			return apperrors.ErrSessionOnly
		case models.Anonymous:
			return apperrors.ErrInvalidAccess
		default:
			return apperrors.ErrInvalidAccess
		}
	}
}

// SessionRole admits browser sessions whose role is at least min.
func SessionRole(min models.Role) Policy {
	return func(ac models.AuthContext) error {
		switch a := ac.(type) {
		case models.SessionAuth:
			if a.Role == nil {
				return apperrors.ErrMissingRole
			}

			if !a.Role.HasAccessTo(min) {
				return apperrors.ErrForbidden
			}

			return nil
		case models.APITokenAuth, models.ExternalAppAuth:
			return apperrors.ErrSessionOnly
		case models.Anonymous:
			return apperrors.ErrInvalidAccess
		default:
			return apperrors.ErrInvalidAccess
		}
	}
}

// AnyRole admits every identity whose effective role is at least min:
// sessions by role, API tokens and apps by scope.
func AnyRole(min models.Role) Policy {
	return func(ac models.AuthContext) error {
		switch a := ac.(type) {
		case models.Anonymous:
			return apperrors.ErrInvalidAccess
		case models.SessionAuth:
			if a.Role == nil {
				return apperrors.ErrMissingRole
			}
		case models.APITokenAuth, models.ExternalAppAuth:
		default:
			return apperrors.ErrInvalidAccess
		}

		role, ok := EffectiveRole(ac)
		if !ok || !role.HasAccessTo(min) {
			return apperrors.ErrForbidden
		}

		return nil
	}
}

// Require wraps next with policy. It must run after Required or
// Optional has stored the identity.
func Require(policy Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := FromContext(r.Context())
			if err := policy(ac); err != nil {
				logger.Debug("auth: policy denied",
					slog.String("kind", models.Kind(ac)),
					slog.String("user_id", models.UserIDOf(ac)),
					slog.String("path", r.URL.Path),
					slog.String("code", apperrors.As(err).Code),
				)
				respond.Error(w, logger, err)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
	"github.com/alexjbarnes/llm-gateway/internal/session"
)

// TokenValidator resolves API tokens.
type TokenValidator interface {
	Validate(ctx context.Context, bearer string) (models.APITokenAuth, error)
}

// AppValidator resolves app tokens.
type AppValidator interface {
	Validate(ctx context.Context, bearer string) (models.ExternalAppAuth, error)
}

// Refresher renews a session's upstream access token when it is about
// to expire.
type Refresher interface {
	EnsureFresh(ctx context.Context, sess *models.Session) (*models.Session, error)
}

// Resolver turns request evidence into an AuthContext.
type Resolver struct {
	tokens    TokenValidator
	apps      AppValidator
	sessions  *session.Manager
	refresher Refresher
	logger    *slog.Logger
}

// ResolverConfig holds Resolver dependencies. Apps and Refresher may
// be nil.
type ResolverConfig struct {
	Tokens    TokenValidator
	Apps      AppValidator
	Sessions  *session.Manager
	Refresher Refresher
	Logger    *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{
		tokens:    cfg.Tokens,
		apps:      cfg.Apps,
		sessions:  cfg.Sessions,
		refresher: cfg.Refresher,
		logger:    cfg.Logger,
	}
}

// Resolve inspects exactly one evidence channel. An Authorization
// header selects the bearer path and the cookie is never consulted,
// even when the bearer is rejected. Without a header the session
// cookie is used. No evidence yields Anonymous and a nil error.
func (res *Resolver) Resolve(r *http.Request) (models.AuthContext, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		return res.resolveBearer(r.Context(), h)
	}

	id, ok := res.sessions.SessionID(r)
	if !ok {
		return models.Anonymous{}, nil
	}

	if !sameOrigin(r) {
		res.logger.Debug("auth: cross-site cookie ignored",
			slog.String("host", r.Host),
			slog.String("sec_fetch_site", r.Header.Get("Sec-Fetch-Site")),
		)

		return models.Anonymous{}, nil
	}

	return res.resolveSession(r.Context(), id)
}

func (res *Resolver) resolveBearer(ctx context.Context, header string) (models.AuthContext, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: malformed authorization header", apperrors.ErrInvalidAccess)
	}

	token = strings.TrimSpace(token)

	ac, err := res.tokens.Validate(ctx, token)
	if err == nil {
		return ac, nil
	}

	if !apperrors.Is(err, apperrors.ErrTokenNotFound) {
		return nil, err
	}

	if res.apps == nil {
		return nil, apperrors.ErrTokenInvalid
	}

	app, err := res.apps.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	return app, nil
}

func (res *Resolver) resolveSession(ctx context.Context, id string) (models.AuthContext, error) {
	sess, err := res.sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: loading session: %w", apperrors.ErrStore, err)
	}

	if !sess.Authenticated() {
		return nil, apperrors.ErrInvalidAccess
	}

	if res.refresher != nil {
		sess, err = res.refresher.EnsureFresh(ctx, sess)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrStore) {
				return nil, err
			}

			return nil, fmt.Errorf("%w: session token refresh failed", apperrors.ErrInvalidAccess)
		}
	}

	return models.SessionAuth{
		UserID:   sess.UserID,
		Username: sess.Username,
		Role:     sess.Role,
		Token:    sess.AccessToken,
	}, nil
}

// sameOrigin rejects cross-site cookie use on loopback hosts, where
// SameSite=Lax cannot tell two local apps on different ports apart.
// Browsers set Sec-Fetch-Site; clients that omit it are not browsers.
func sameOrigin(r *http.Request) bool {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return true
	}

	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
		return true
	default:
		return false
	}
}

// Required rejects requests without valid evidence with 401.
func (res *Resolver) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := res.Resolve(r)
		if err == nil && !models.IsAuthenticated(ac) {
			err = apperrors.ErrInvalidAccess
		}

		if err != nil {
			res.reject(w, r, err)
			return
		}

		res.logger.Debug("auth: resolved",
			slog.String("kind", models.Kind(ac)),
			slog.String("user_id", models.UserIDOf(ac)),
			slog.String("path", r.URL.Path),
		)

		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// Optional resolves identity but lets every request through. Invalid
// evidence is treated as none; storage failures still fail the request.
func (res *Resolver) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := res.Resolve(r)
		if err != nil {
			if apperrors.StatusOf(err) >= http.StatusInternalServerError {
				respond.Error(w, res.logger, err)
				return
			}

			res.logger.Debug("auth: invalid evidence treated as anonymous",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)

			ac = models.Anonymous{}
		}

		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

func (res *Resolver) reject(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusOf(err)

	if status < http.StatusInternalServerError {
		res.logger.Debug("auth: rejected",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		// Token lookups that miss are reported as plain authentication
		// failures.
		if status != http.StatusUnauthorized {
			err = fmt.Errorf("%w: %w", apperrors.ErrInvalidAccess, err)
		}

		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}

	respond.Error(w, res.logger, err)
}

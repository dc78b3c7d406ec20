// Package tokens issues and validates long-lived API tokens. A token's
// scope is fixed at creation and can never exceed the creating user's
// role. Only the SHA-256 digest of a token is stored.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/state"
	"github.com/google/uuid"
)

const (
	// Prefix marks gateway-issued API tokens.
	Prefix = "bodhiapp_"

	// tokenBytes is the number of random bytes in a token body.
	tokenBytes = 32

	// MaxPageSize caps List page sizes.
	MaxPageSize = 100
)

// Store is the persistence the token manager needs. *state.State
// satisfies it.
type Store interface {
	SaveAPIToken(t models.APIToken) error
	GetAPITokenByDigest(digest string) (*models.APIToken, error)
	UpdateAPIToken(id string, fn func(*models.APIToken) error) (*models.APIToken, error)
	ListAPITokens(userID string, offset, limit int) ([]models.APIToken, int, error)
	GetUser(id string) (*models.User, error)
}

// Manager creates, validates and updates API tokens.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager returns a Manager over store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger, now: time.Now}
}

// CheckScope reports whether a user holding role may mint a token with
// scope. Every role and scope is listed explicitly; there is no
// default grant.
func CheckScope(role models.Role, scope models.TokenScope) error {
	switch role {
	case models.RoleUser:
		switch scope {
		case models.TokenScopeUser:
			return nil
		case models.TokenScopePowerUser:
			return apperrors.ErrPrivilegeEscalation
		}
	case models.RolePowerUser, models.RoleManager, models.RoleAdmin:
		switch scope {
		case models.TokenScopeUser, models.TokenScopePowerUser:
			return nil
		}
	}

	return apperrors.ErrInvalidScope
}

// Create mints a token for userID. The plaintext is returned once and
// never stored.
func (m *Manager) Create(ctx context.Context, userID string, actorRole models.Role, scope models.TokenScope, name string) (string, *models.APIToken, error) {
	if err := CheckScope(actorRole, scope); err != nil {
		m.logger.Info("tokens: create rejected",
			slog.String("user_id", userID),
			slog.String("role", actorRole.String()),
			slog.String("scope", scope.String()),
		)

		return "", nil, err
	}

	plaintext := generate()
	now := m.now()
	t := models.APIToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        strings.TrimSpace(name),
		TokenDigest: state.TokenDigest(plaintext),
		Scope:       scope,
		Status:      models.TokenActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.SaveAPIToken(t); err != nil {
		return "", nil, fmt.Errorf("%w: saving token: %w", apperrors.ErrStore, err)
	}

	m.logger.Info("tokens: created",
		slog.String("user_id", userID),
		slog.String("token_id", t.ID),
		slog.String("scope", scope.String()),
	)

	return plaintext, &t, nil
}

// Validate resolves a bearer token. Unknown tokens return
// ErrTokenNotFound so callers can try other token kinds.
func (m *Manager) Validate(ctx context.Context, bearer string) (models.APITokenAuth, error) {
	if !strings.HasPrefix(bearer, Prefix) {
		return models.APITokenAuth{}, apperrors.ErrTokenNotFound
	}

	t, err := m.store.GetAPITokenByDigest(state.TokenDigest(bearer))
	if err != nil {
		return models.APITokenAuth{}, fmt.Errorf("%w: loading token: %w", apperrors.ErrStore, err)
	}

	if t == nil {
		return models.APITokenAuth{}, apperrors.ErrTokenNotFound
	}

	if t.Status != models.TokenActive {
		return models.APITokenAuth{}, apperrors.ErrTokenInactive
	}

	owner, err := m.store.GetUser(t.UserID)
	if err != nil {
		return models.APITokenAuth{}, fmt.Errorf("%w: loading token owner: %w", apperrors.ErrStore, err)
	}

	if owner == nil {
		return models.APITokenAuth{}, apperrors.ErrTokenOwnerRemoved
	}

	// The owner's current role bounds the token, so removal followed by
	// a fresh login or a demotion cannot revive the old scope.
	if owner.Role == nil || CheckScope(*owner.Role, t.Scope) != nil {
		m.logger.Info("tokens: scope no longer permitted",
			slog.String("user_id", t.UserID),
			slog.String("token_id", t.ID),
			slog.String("scope", t.Scope.String()),
		)

		return models.APITokenAuth{}, apperrors.ErrTokenScopeRevoked
	}

	return models.APITokenAuth{UserID: t.UserID, Scope: t.Scope, Token: bearer}, nil
}

// Update changes a token's status and optionally its name. Tokens
// owned by someone else are reported as not found.
func (m *Manager) Update(ctx context.Context, tokenID, ownerUserID string, status models.TokenStatus, name *string) (*models.APIToken, error) {
	if status != models.TokenActive && status != models.TokenInactive {
		return nil, apperrors.ErrInvalidRequest
	}

	t, err := m.store.UpdateAPIToken(tokenID, func(t *models.APIToken) error {
		if t.UserID != ownerUserID {
			return apperrors.ErrTokenNotFound
		}

		t.Status = status
		if name != nil {
			t.Name = strings.TrimSpace(*name)
		}

		t.UpdatedAt = m.now()

		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("tokens: updated",
		slog.String("user_id", ownerUserID),
		slog.String("token_id", tokenID),
		slog.String("status", string(status)),
	)

	return t, nil
}

// List returns a page of the owner's tokens. page is 1-based.
func (m *Manager) List(ctx context.Context, ownerUserID string, page, pageSize int) ([]models.APIToken, int, error) {
	page, pageSize = NormalizePage(page, pageSize)

	toks, total, err := m.store.ListAPITokens(ownerUserID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: listing tokens: %w", apperrors.ErrStore, err)
	}

	return toks, total, nil
}

// NormalizePage clamps page to >= 1 and pageSize to 1..MaxPageSize,
// defaulting to 30.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}

	if pageSize <= 0 {
		pageSize = 30
	}

	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return page, pageSize
}

func generate() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return Prefix + base64.RawURLEncoding.EncodeToString(b)
}

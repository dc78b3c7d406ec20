package apps

import (
	"context"
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
	// maxClients caps the number of registered clients to prevent
	// unbounded growth from unauthenticated registration requests.
	maxClients = 100

	// AccessRequestScopePrefix marks the scope naming an access request.
	AccessRequestScopePrefix = "scope_access_request:"

	// tokenPrefix marks app tokens.
	tokenPrefix = "bodhiapp_app_"
)

// Store is the persistence the app authorization server needs.
// *state.State satisfies it.
type Store interface {
	SaveOAuthClient(c models.OAuthClient) error
	GetOAuthClient(clientID string) (*models.OAuthClient, error)
	OAuthClientCount() int
	GetAppAccessRequest(id string) (*models.AppAccessRequest, error)
	SaveAppToken(t models.AppToken) error
	GetAppToken(digest string) (*models.AppToken, error)
	DeleteExpiredAppTokens(now time.Time) (int, error)
	GetUser(id string) (*models.User, error)
}

// Service registers clients, issues authorization codes and app
// tokens, and validates app tokens.
type Service struct {
	store    Store
	codes    *CodeStore
	tokenTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the app authorization server. App tokens live for
// tokenTTL.
func NewService(store Store, tokenTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		codes:    NewCodeStore(),
		tokenTTL: tokenTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Register stores a new client. Returns ErrRateLimited once the client
// cap is reached.
func (s *Service) Register(_ context.Context, name string, redirectURIs []string) (*models.OAuthClient, error) {
	if s.store.OAuthClientCount() >= maxClients {
		return nil, fmt.Errorf("%w: client registration limit reached", apperrors.ErrRateLimited)
	}

	c := models.OAuthClient{
		ClientID:     uuid.NewString(),
		ClientName:   name,
		RedirectURIs: redirectURIs,
		CreatedAt:    s.now(),
	}

	if err := s.store.SaveOAuthClient(c); err != nil {
		return nil, fmt.Errorf("%w: saving client: %w", apperrors.ErrStore, err)
	}

	s.logger.Info("apps: client registered",
		slog.String("client_id", c.ClientID),
		slog.String("client_name", name),
	)

	return &c, nil
}

// Client returns a registered client, or nil.
func (s *Service) Client(clientID string) (*models.OAuthClient, error) {
	if clientID == "" {
		return nil, nil
	}

	c, err := s.store.GetOAuthClient(clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	return c, nil
}

// AccessRequestID extracts the access request ID from a space separated
// scope string.
func AccessRequestID(scope string) (string, bool) {
	for _, f := range strings.Fields(scope) {
		if id, ok := strings.CutPrefix(f, AccessRequestScopePrefix); ok && id != "" {
			return id, true
		}
	}

	return "", false
}

// checkGrant verifies that an access request still grants clientID
// access on behalf of userID. It returns the approved role.
func (s *Service) checkGrant(requestID, clientID, userID string) (models.UserScope, error) {
	r, err := s.store.GetAppAccessRequest(requestID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	if r == nil || r.Status != models.AppRequestApproved || r.ApprovedRole == nil {
		return 0, apperrors.ErrAppNotApproved
	}

	if r.AppClientID != clientID {
		return 0, apperrors.ErrAppClientMismatch
	}

	if r.ReviewerUserID != userID {
		return 0, apperrors.ErrAppNotApproved
	}

	user, err := s.store.GetUser(userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	if user == nil {
		return 0, apperrors.ErrTokenOwnerRemoved
	}

	if user.Role == nil {
		return 0, apperrors.ErrMissingRole
	}

	if !user.Role.MaxUserScope().HasAccessTo(*r.ApprovedRole) {
		return 0, apperrors.ErrAppPrivilegeEscalation
	}

	return *r.ApprovedRole, nil
}

// IssueCode creates an authorization code for an approved request. The
// session user must be the one who approved it.
func (s *Service) IssueCode(clientID, redirectURI, codeChallenge, userID, requestID string) (string, error) {
	if _, err := s.checkGrant(requestID, clientID, userID); err != nil {
		return "", err
	}

	code := randomString(codeBytes)
	s.codes.Save(&Code{
		Code:            code,
		ClientID:        clientID,
		RedirectURI:     redirectURI,
		CodeChallenge:   codeChallenge,
		UserID:          userID,
		AccessRequestID: requestID,
		ExpiresAt:       s.now().Add(codeExpiry),
	})

	return code, nil
}

// IssuedToken is a freshly minted app token.
type IssuedToken struct {
	AccessToken string
	Scope       models.UserScope
	ExpiresIn   time.Duration
}

// Exchange redeems an authorization code. It re-checks the access
// request, so a grant revoked between authorize and token fails.
func (s *Service) Exchange(_ context.Context, code, clientID, redirectURI, verifier string) (*IssuedToken, error) {
	ac := s.codes.Consume(code)
	if ac == nil {
		return nil, errInvalidGrant("invalid or expired authorization code")
	}

	if clientID != "" && clientID != ac.ClientID {
		return nil, errInvalidGrant("client_id mismatch")
	}

	if ac.RedirectURI != "" && redirectURI != ac.RedirectURI {
		return nil, errInvalidGrant("redirect_uri mismatch")
	}

	if verifier == "" {
		return nil, errInvalidGrant("code_verifier is required")
	}

	if !verifyPKCE(verifier, ac.CodeChallenge) {
		return nil, errInvalidGrant("PKCE verification failed")
	}

	scope, err := s.checkGrant(ac.AccessRequestID, ac.ClientID, ac.UserID)
	if err != nil {
		return nil, err
	}

	token := tokenPrefix + randomString(codeBytes)
	now := s.now()

	err = s.store.SaveAppToken(models.AppToken{
		TokenDigest:     state.TokenDigest(token),
		UserID:          ac.UserID,
		ClientID:        ac.ClientID,
		AccessRequestID: ac.AccessRequestID,
		Scope:           scope,
		ExpiresAt:       now.Add(s.tokenTTL),
		CreatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: saving app token: %w", apperrors.ErrStore, err)
	}

	s.logger.Info("apps: token issued",
		slog.String("client_id", ac.ClientID),
		slog.String("user_id", ac.UserID),
		slog.String("access_request_id", ac.AccessRequestID),
		slog.String("scope", scope.String()),
	)

	return &IssuedToken{AccessToken: token, Scope: scope, ExpiresIn: s.tokenTTL}, nil
}

// Validate resolves an app token. The access request, the client and
// the user's current role are checked on every call; nothing about the
// approval is cached.
func (s *Service) Validate(_ context.Context, bearer string) (models.ExternalAppAuth, error) {
	t, err := s.store.GetAppToken(state.TokenDigest(bearer))
	if err != nil {
		return models.ExternalAppAuth{}, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	if t == nil {
		return models.ExternalAppAuth{}, apperrors.ErrTokenInvalid
	}

	if s.now().After(t.ExpiresAt) {
		return models.ExternalAppAuth{}, apperrors.ErrTokenExpired
	}

	approved, err := s.checkGrant(t.AccessRequestID, t.ClientID, t.UserID)
	if err != nil {
		return models.ExternalAppAuth{}, err
	}

	// Never report more than the request grants.
	scope := t.Scope
	if !approved.HasAccessTo(scope) {
		scope = approved
	}

	return models.ExternalAppAuth{
		UserID:          t.UserID,
		Scope:           scope,
		Token:           bearer,
		ClientID:        t.ClientID,
		AccessRequestID: t.AccessRequestID,
	}, nil
}

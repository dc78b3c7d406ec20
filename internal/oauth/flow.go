package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/session"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
)

// Frontend paths the flow redirects to.
const (
	CallbackPath      = "/bodhi/v1/auth/callback"
	ChatPath          = "/ui/chat"
	RequestAccessPath = "/ui/request-access"
	LoginPath         = "/ui/login"
)

const (
	// stateBytes is the number of random bytes in the CSRF state.
	stateBytes = 32

	// refreshLeeway refreshes access tokens slightly before expiry.
	refreshLeeway = 30 * time.Second
)

// UserStore is the user persistence the flow needs.
type UserStore interface {
	UpsertUser(id, username, email string, now time.Time) (*models.User, error)
}

// Flow runs the login state machine. All state lives in the session.
type Flow struct {
	provider  Provider
	sessions  *session.Manager
	users     UserStore
	publicURL string
	scheme    string
	logger    *slog.Logger
	refreshes singleflight.Group
	now       func() time.Time
}

// FlowConfig holds Flow dependencies. PublicURL may be empty, in which
// case URLs are derived from the request host with Scheme.
type FlowConfig struct {
	Provider  Provider
	Sessions  *session.Manager
	Users     UserStore
	PublicURL string
	Scheme    string
	Logger    *slog.Logger
}

// NewFlow creates a login flow.
func NewFlow(cfg FlowConfig) *Flow {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}

	return &Flow{
		provider:  cfg.Provider,
		sessions:  cfg.Sessions,
		users:     cfg.Users,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		scheme:    scheme,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Result is the outcome of a flow step: where the browser goes next and
// which session the cookie should name.
type Result struct {
	Location      string
	SessionID     string
	Authenticated bool
}

// Initiate starts a login. When sessionID already names a logged-in
// session the caller is sent straight to the app.
func (f *Flow) Initiate(ctx context.Context, sessionID, host string) (Result, error) {
	base, err := f.BaseURL(host)
	if err != nil {
		return Result{}, err
	}

	var sess *models.Session
	if sessionID != "" {
		sess, err = f.sessions.Get(ctx, sessionID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
		}
	}

	if sess.Authenticated() {
		return Result{Location: base + ChatPath, SessionID: sess.ID, Authenticated: true}, nil
	}

	if sess == nil {
		sess, err = f.sessions.New(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
		}
	}

	callback := base + CallbackPath
	sess.CSRFState = randomState()
	sess.PKCEVerifier = oauth2.GenerateVerifier()
	sess.CallbackURL = callback

	if err := f.sessions.Save(ctx, sess); err != nil {
		return Result{}, fmt.Errorf("%w: saving login session: %w", apperrors.ErrStore, err)
	}

	f.logger.Debug("oauth: login initiated",
		slog.String("callback", callback),
	)

	return Result{
		Location:  f.provider.AuthCodeURL(sess.CSRFState, sess.PKCEVerifier, callback),
		SessionID: sess.ID,
	}, nil
}

// Callback completes a login. The pending state and verifier are
// consumed whether or not the callback succeeds.
func (f *Flow) Callback(ctx context.Context, sessionID string, q url.Values, host string) (Result, error) {
	if e := q.Get("error"); e != "" {
		f.discardTransient(ctx, sessionID)

		desc := q.Get("error_description")
		f.logger.Info("oauth: provider returned error",
			slog.String("error", e),
			slog.String("description", desc),
		)

		return Result{}, fmt.Errorf("%w: %s %s", apperrors.ErrOAuthProvider, e, desc)
	}

	state := q.Get("state")
	if state == "" {
		f.discardTransient(ctx, sessionID)
		return Result{}, apperrors.ErrMissingState
	}

	code := q.Get("code")
	if code == "" {
		f.discardTransient(ctx, sessionID)
		return Result{}, apperrors.ErrMissingCode
	}

	if sessionID == "" {
		return Result{}, apperrors.ErrSessionInfoNotFound
	}

	tr, ok, err := f.sessions.ConsumeOAuth(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	if !ok {
		return Result{}, apperrors.ErrSessionInfoNotFound
	}

	if !stateMatches(state, tr.CSRFState) {
		f.logger.Warn("oauth: state mismatch on callback")
		return Result{}, apperrors.ErrStateDigestMismatch
	}

	tok, err := f.provider.Exchange(ctx, code, tr.PKCEVerifier, tr.CallbackURL)
	if err != nil {
		return Result{}, err
	}

	info, err := f.provider.UserInfo(ctx, tok.AccessToken)
	if err != nil {
		return Result{}, err
	}

	user, err := f.users.UpsertUser(info.Subject, norm.NFC.String(info.Username), info.Email, f.now())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	old, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	sess, err := f.sessions.Rotate(ctx, old, user, session.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
	}

	base, err := f.BaseURL(host)
	if err != nil {
		return Result{}, err
	}

	location := base + ChatPath
	if user.Role == nil {
		location = base + RequestAccessPath
	}

	f.logger.Info("oauth: login complete",
		slog.String("user_id", user.ID),
		slog.Bool("has_role", user.Role != nil),
	)

	return Result{Location: location, SessionID: sess.ID, Authenticated: true}, nil
}

// Logout destroys the session and returns the login page URL.
func (f *Flow) Logout(ctx context.Context, sessionID, host string) (string, error) {
	if sessionID != "" {
		if err := f.sessions.Destroy(ctx, sessionID); err != nil {
			return "", fmt.Errorf("%w: %w", apperrors.ErrStore, err)
		}
	}

	base, err := f.BaseURL(host)
	if err != nil {
		return "", err
	}

	return base + LoginPath, nil
}

// EnsureFresh refreshes the session's upstream access token when it is
// about to expire. Concurrent requests on one session share a single
// refresh.
func (f *Flow) EnsureFresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	if sess.TokenExpiry.IsZero() || sess.RefreshToken == "" || f.now().Add(refreshLeeway).Before(sess.TokenExpiry) {
		return sess, nil
	}

	v, err, _ := f.refreshes.Do(sess.ID, func() (any, error) {
		tok, err := f.provider.Refresh(ctx, sess.RefreshToken)
		if err != nil {
			return nil, err
		}

		updated, err := f.sessions.UpdateTokens(ctx, sess.ID, session.TokenSet{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrStore, err)
		}

		// Destroyed while the refresh was in flight.
		if updated == nil {
			return nil, fmt.Errorf("%w: session ended during token refresh", apperrors.ErrInvalidAccess)
		}

		return updated, nil
	})
	if err != nil {
		f.logger.Info("oauth: token refresh failed",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	return v.(*models.Session), nil
}

func (f *Flow) discardTransient(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	if _, _, err := f.sessions.ConsumeOAuth(ctx, sessionID); err != nil {
		f.logger.Warn("oauth: clearing login state failed", slog.String("error", err.Error()))
	}
}

// BaseURL returns the public base URL, deriving it from the request
// host when none is configured. The derived host is only used to build
// URLs already registered with the provider.
func (f *Flow) BaseURL(host string) (string, error) {
	if f.publicURL != "" {
		return f.publicURL, nil
	}

	if !validHost(host) {
		return "", fmt.Errorf("%w: invalid host header", apperrors.ErrInvalidRequest)
	}

	return f.scheme + "://" + host, nil
}

func validHost(host string) bool {
	if host == "" || strings.ContainsAny(host, "/\\@?# ") {
		return false
	}

	u, err := url.Parse("http://" + host)

	return err == nil && u.Host == host && u.Hostname() != ""
}

// stateMatches compares two state values in constant time.
func stateMatches(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))

	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}

func randomState() string {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return base64.RawURLEncoding.EncodeToString(b)
}

package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
	"github.com/alexjbarnes/llm-gateway/internal/session"
	"github.com/alexjbarnes/llm-gateway/internal/state"
	"github.com/alexjbarnes/llm-gateway/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rolePtr(r models.Role) *models.Role { return &r }

// fakeApps accepts a single app token.
type fakeApps struct {
	token string
	err   error
	calls int
}

func (f *fakeApps) Validate(_ context.Context, bearer string) (models.ExternalAppAuth, error) {
	f.calls++

	if f.err != nil {
		return models.ExternalAppAuth{}, f.err
	}

	if bearer != f.token {
		return models.ExternalAppAuth{}, apperrors.ErrTokenInvalid
	}

	return models.ExternalAppAuth{UserID: "u1", Scope: models.UserScopeUser, Token: bearer, ClientID: "app-1", AccessRequestID: "ar-1"}, nil
}

type fakeRefresher struct {
	err error
}

func (f fakeRefresher) EnsureFresh(_ context.Context, sess *models.Session) (*models.Session, error) {
	return sess, f.err
}

type fixture struct {
	st       *state.State
	sessions *session.Manager
	tokens   *tokens.Manager
	apps     *fakeApps
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions, err := session.NewManager(session.NewBoltStore(st), "0123456789abcdef0123456789abcdef", time.Hour, false, testLogger())
	require.NoError(t, err)

	fx := &fixture{
		st:       st,
		sessions: sessions,
		tokens:   tokens.NewManager(st, testLogger()),
		apps:     &fakeApps{token: "app-token"},
	}

	fx.resolver = NewResolver(ResolverConfig{
		Tokens:   fx.tokens,
		Apps:     fx.apps,
		Sessions: sessions,
		Logger:   testLogger(),
	})

	return fx
}

// login creates a user with role and an authenticated session cookie.
func (fx *fixture) login(t *testing.T, userID string, role *models.Role) *http.Cookie {
	t.Helper()

	u, err := fx.st.UpsertUser(userID, userID, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, fx.st.SetUserRole(userID, role, time.Now()))
	u.Role = role

	sess, err := fx.sessions.Rotate(context.Background(), nil, u, session.TokenSet{AccessToken: "upstream"})
	require.NoError(t, err)

	return fx.sessions.Cookie(sess.ID)
}

func (fx *fixture) apiToken(t *testing.T, userID string, role models.Role, scope models.TokenScope) string {
	t.Helper()

	plain, _, err := fx.tokens.Create(context.Background(), userID, role, scope, "ci")
	require.NoError(t, err)

	return plain
}

// echo responds with the resolved identity kind and user.
func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := FromContext(r.Context())
		respond.JSON(w, http.StatusOK, map[string]string{
			"kind":    models.Kind(ac),
			"user_id": models.UserIDOf(ac),
		})
	})
}

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]string) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)

	return rec, body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body respond.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body.Error.Code
}

// --- Resolve ---

func TestRequired_NoEvidence(t *testing.T) {
	fx := newFixture(t)

	rec, _ := serve(fx.resolver.Required(echo()), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, apperrors.ErrInvalidAccess.Code, errorCode(t, rec))
}

func TestOptional_NoEvidenceIsAnonymous(t *testing.T) {
	fx := newFixture(t)

	rec, body := serve(fx.resolver.Optional(echo()), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", body["kind"])
}

func TestRequired_Session(t *testing.T) {
	fx := newFixture(t)
	cookie := fx.login(t, "u1", rolePtr(models.RoleUser))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(cookie)

	rec, body := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "session", body["kind"])
	assert.Equal(t, "u1", body["user_id"])
}

func TestRequired_TamperedCookie(t *testing.T) {
	fx := newFixture(t)
	cookie := fx.login(t, "u1", rolePtr(models.RoleUser))
	cookie.Value += "x"

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(cookie)

	rec, _ := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequired_DestroyedSession(t *testing.T) {
	fx := newFixture(t)
	cookie := fx.login(t, "u1", rolePtr(models.RoleUser))

	_, err := fx.sessions.DestroyAllForUser(context.Background(), "u1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(cookie)

	rec, _ := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequired_APIToken(t *testing.T) {
	fx := newFixture(t)
	fx.login(t, "u1", rolePtr(models.RolePowerUser))
	token := fx.apiToken(t, "u1", models.RolePowerUser, models.TokenScopePowerUser)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, body := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api_token", body["kind"])
	assert.Zero(t, fx.apps.calls)
}

func TestRequired_FallsBackToAppValidator(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer app-token")

	rec, body := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "external_app", body["kind"])
	assert.Equal(t, 1, fx.apps.calls)
}

func TestRequired_InactiveTokenDoesNotTryApps(t *testing.T) {
	fx := newFixture(t)
	fx.login(t, "u1", rolePtr(models.RoleUser))
	token := fx.apiToken(t, "u1", models.RoleUser, models.TokenScopeUser)

	_, err := fx.st.UpdateAPIToken(tokenIDFor(t, fx, "u1"), func(tok *models.APIToken) error {
		tok.Status = models.TokenInactive
		return nil
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, _ := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.ErrTokenInactive.Code, errorCode(t, rec))
	assert.Zero(t, fx.apps.calls)
}

func tokenIDFor(t *testing.T, fx *fixture, userID string) string {
	t.Helper()

	toks, _, err := fx.st.ListAPITokens(userID, 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, toks)

	return toks[0].ID
}

func TestRequired_BadBearerNeverFallsBackToCookie(t *testing.T) {
	fx := newFixture(t)
	cookie := fx.login(t, "u1", rolePtr(models.RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(cookie)
	req.Header.Set("Authorization", "Bearer garbage")

	rec, _ := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := serve(fx.resolver.Optional(echo()), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", body["kind"])
}

func TestRequired_MalformedHeader(t *testing.T) {
	fx := newFixture(t)

	for _, h := range []string{"Basic abc", "Bearer", "Bearer   ", "token"} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", h)

		rec, _ := serve(fx.resolver.Required(echo()), req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", h)
	}
}

func TestRequired_NoAppValidator(t *testing.T) {
	fx := newFixture(t)
	fx.resolver.apps = nil

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer app-token")

	rec, _ := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequired_AppValidatorErrorsBecome401(t *testing.T) {
	fx := newFixture(t)
	fx.apps.err = apperrors.ErrAppNotApproved

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer app-token")

	rec, _ := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSameOrigin_LoopbackCrossSiteCookieIgnored(t *testing.T) {
	fx := newFixture(t)
	cookie := fx.login(t, "u1", rolePtr(models.RoleUser))

	tests := []struct {
		host string
		site string
		want int
	}{
		{"localhost:1135", "cross-site", http.StatusUnauthorized},
		{"localhost:1135", "same-site", http.StatusUnauthorized},
		{"127.0.0.1:1135", "cross-site", http.StatusUnauthorized},
		{"localhost:1135", "same-origin", http.StatusOK},
		{"localhost:1135", "", http.StatusOK},
		{"gw.example.com", "cross-site", http.StatusOK},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Host = tt.host
		req.AddCookie(cookie)

		if tt.site != "" {
			req.Header.Set("Sec-Fetch-Site", tt.site)
		}

		rec, _ := serve(fx.resolver.Required(echo()), req)
		assert.Equal(t, tt.want, rec.Code, "%s %s", tt.host, tt.site)
	}
}

func TestRequired_RefreshFailureLogsOut(t *testing.T) {
	fx := newFixture(t)
	fx.resolver.refresher = fakeRefresher{err: apperrors.ErrProviderExchange}
	cookie := fx.login(t, "u1", rolePtr(models.RoleUser))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(cookie)

	rec, _ := serve(fx.resolver.Required(echo()), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// --- Policies ---

func TestPolicies(t *testing.T) {
	session := func(r *models.Role) models.AuthContext { return models.SessionAuth{UserID: "u", Role: r} }
	token := func(s models.TokenScope) models.AuthContext { return models.APITokenAuth{UserID: "u", Scope: s} }
	app := func(s models.UserScope) models.AuthContext { return models.ExternalAppAuth{UserID: "u", Scope: s} }

	tests := []struct {
		name   string
		policy Policy
		ac     models.AuthContext
		want   error
	}{
		{"session only: session without role", SessionOnly(), session(nil), nil},
		{"session only: api token", SessionOnly(), token(models.TokenScopeUser), apperrors.ErrSessionOnly},
		{"session only: anonymous", SessionOnly(), models.Anonymous{}, apperrors.ErrInvalidAccess},

		{"session role: nil role", SessionRole(models.RoleUser), session(nil), apperrors.ErrMissingRole},
		{"session role: user below manager", SessionRole(models.RoleManager), session(rolePtr(models.RoleUser)), apperrors.ErrForbidden},
		{"session role: admin above manager", SessionRole(models.RoleManager), session(rolePtr(models.RoleAdmin)), nil},
		{"session role: app", SessionRole(models.RoleUser), app(models.UserScopePowerUser), apperrors.ErrSessionOnly},

		{"any role: token user", AnyRole(models.RoleUser), token(models.TokenScopeUser), nil},
		{"any role: token user below power", AnyRole(models.RolePowerUser), token(models.TokenScopeUser), apperrors.ErrForbidden},
		{"any role: app power user", AnyRole(models.RolePowerUser), app(models.UserScopePowerUser), nil},
		{"any role: app never manager", AnyRole(models.RoleManager), app(models.UserScopePowerUser), apperrors.ErrForbidden},
		{"any role: session nil role", AnyRole(models.RoleUser), session(nil), apperrors.ErrMissingRole},
		{"any role: anonymous", AnyRole(models.RoleUser), models.Anonymous{}, apperrors.ErrInvalidAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy(tt.ac)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRequire_Middleware(t *testing.T) {
	fx := newFixture(t)
	cookie := fx.login(t, "u1", rolePtr(models.RoleUser))

	h := fx.resolver.Required(Require(SessionRole(models.RoleManager), testLogger())(echo()))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(cookie)

	rec, _ := serve(h, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.ErrForbidden.Code, errorCode(t, rec))
}

func TestFromContext_DefaultsToAnonymous(t *testing.T) {
	assert.Equal(t, models.Anonymous{}, FromContext(context.Background()))
}

func TestEffectiveRole(t *testing.T) {
	role, ok := EffectiveRole(models.SessionAuth{Role: rolePtr(models.RoleManager)})
	assert.True(t, ok)
	assert.Equal(t, models.RoleManager, role)

	role, ok = EffectiveRole(models.APITokenAuth{Scope: models.TokenScopePowerUser})
	assert.True(t, ok)
	assert.Equal(t, models.RolePowerUser, role)

	_, ok = EffectiveRole(models.SessionAuth{})
	assert.False(t, ok)

	_, ok = EffectiveRole(models.Anonymous{})
	assert.False(t, ok)
}

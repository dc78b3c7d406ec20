// Package oauth runs the first-party login flow against the upstream
// identity provider: authorization URL with PKCE, callback handling,
// user provisioning, logout and access token refresh.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

//go:generate mockgen -source=provider.go -destination=mock_provider_test.go -package=oauth

// maxUserInfoBytes caps the userinfo response body.
const maxUserInfoBytes = 1 << 20

// UserInfo is the identity returned by the provider.
type UserInfo struct {
	Subject  string
	Username string
	Email    string
}

// Provider is the upstream identity provider.
type Provider interface {
	AuthCodeURL(state, verifier, redirectURL string) string
	Exchange(ctx context.Context, code, verifier, redirectURL string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

// HTTPProvider talks to an OAuth2/OIDC provider over HTTP. Every call
// is bounded by timeout.
type HTTPProvider struct {
	cfg         oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	timeout     time.Duration
}

// ProviderConfig configures an HTTPProvider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	Timeout      time.Duration
}

// NewHTTPProvider creates a provider client. A nil httpClient uses
// http.DefaultClient.
func NewHTTPProvider(pc ProviderConfig, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPProvider{
		cfg: oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  pc.AuthURL,
				TokenURL: pc.TokenURL,
			},
			Scopes: pc.Scopes,
		},
		userInfoURL: pc.UserInfoURL,
		httpClient:  httpClient,
		timeout:     pc.Timeout,
	}
}

func (p *HTTPProvider) config(redirectURL string) *oauth2.Config {
	c := p.cfg
	c.RedirectURL = redirectURL

	return &c
}

// AuthCodeURL builds the authorization URL with an S256 PKCE challenge.
func (p *HTTPProvider) AuthCodeURL(state, verifier, redirectURL string) string {
	return p.config(redirectURL).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code and PKCE verifier for tokens.
func (p *HTTPProvider) Exchange(ctx context.Context, code, verifier, redirectURL string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.config(redirectURL).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classify("exchanging code", err)
	}

	return tok, nil
}

// Refresh obtains a new access token using a refresh token.
func (p *HTTPProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classify("refreshing token", err)
	}

	return tok, nil
}

// UserInfo fetches the authenticated user's identity.
func (p *HTTPProvider) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classify("fetching userinfo", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, classify("reading userinfo", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned status %d", apperrors.ErrProviderExchange, resp.StatusCode)
	}

	return parseUserInfo(body)
}

func parseUserInfo(body []byte) (*UserInfo, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: userinfo is not valid JSON", apperrors.ErrProviderExchange)
	}

	res := gjson.GetManyBytes(body, "sub", "preferred_username", "email")

	info := &UserInfo{
		Subject:  res[0].String(),
		Username: res[1].String(),
		Email:    res[2].String(),
	}

	if info.Subject == "" {
		return nil, fmt.Errorf("%w: userinfo has no sub claim", apperrors.ErrProviderExchange)
	}

	if info.Username == "" {
		info.Username = info.Email
	}

	if info.Username == "" {
		info.Username = info.Subject
	}

	return info, nil
}

// classify maps transport failures to the timeout or provider error.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", apperrors.ErrProviderTimeout, op, err)
	}

	return fmt.Errorf("%w: %s: %w", apperrors.ErrProviderExchange, op, err)
}

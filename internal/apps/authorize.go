package apps

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/alexjbarnes/llm-gateway/internal/auth"
	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
)

// redirectWithError sends an RFC 6749 4.1.2.1 error back to the client.
// redirectURI must already be validated against the client.
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, state, errCode, description string) {
	params := url.Values{"error": {errCode}, "error_description": {description}}
	if state != "" {
		params.Set("state", state)
	}

	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

// appendQuery keeps any query the redirect URI already has.
func appendQuery(redirectURI string, params url.Values) string {
	if strings.Contains(redirectURI, "?") {
		return redirectURI + "&" + params.Encode()
	}

	return redirectURI + "?" + params.Encode()
}

// validateRedirectURI requires an exact match with a registered URI.
// A registered bare loopback origin accepts any port and path (RFC 8252
// 7.3), and clients with nothing registered may only use loopback.
func validateRedirectURI(client *models.OAuthClient, redirectURI string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}

	if len(client.RedirectURIs) == 0 {
		return u.Scheme == "http" && isLoopbackHost(u.Hostname())
	}

	for _, registered := range client.RedirectURIs {
		switch registered {
		case redirectURI:
			return true
		case "http://127.0.0.1", "http://localhost":
			// Compare parsed hostnames so 127.0.0.1.evil.com is rejected.
			if u.Scheme == "http" && u.Hostname() == strings.TrimPrefix(registered, "http://") {
				return true
			}
		}
	}

	return false
}

func isLoopbackHost(host string) bool {
	switch host {
	case "127.0.0.1", "localhost", "::1":
		return true
	}

	return false
}

// HandleAuthorize returns the app authorization endpoint. The caller
// must already hold a browser session; the route is wrapped by the
// session-only resolver. issuer resolves the public URL for the RFC 9207
// iss parameter.
func (s *Service) HandleAuthorize(issuer func(*http.Request) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := auth.FromContext(r.Context()).(models.SessionAuth)
		if !ok {
			respond.Error(w, s.logger, apperrors.ErrSessionOnly)
			return
		}

		q := r.URL.Query()

		client, err := s.Client(q.Get("client_id"))
		if err != nil {
			respond.Error(w, s.logger, err)
			return
		}

		if client == nil {
			respond.Error(w, s.logger, apperrors.ErrUnknownClient)
			return
		}

		redirectURI := q.Get("redirect_uri")
		if redirectURI == "" {
			// RFC 6749 Section 3.1.2.3: when only one redirect URI is
			// registered, use it. Otherwise require an explicit value.
			if len(client.RedirectURIs) != 1 {
				respond.Error(w, s.logger, apperrors.ErrInvalidRequest)
				return
			}

			redirectURI = client.RedirectURIs[0]
		} else if !validateRedirectURI(client, redirectURI) {
			respond.Error(w, s.logger, apperrors.ErrInvalidRequest)
			return
		}

		state := q.Get("state")

		if responseType := q.Get("response_type"); responseType != "code" {
			errCode := "unsupported_response_type"
			if responseType == "" {
				errCode = "invalid_request"
			}

			redirectWithError(w, r, redirectURI, state, errCode, "response_type must be \"code\"")

			return
		}

		codeChallenge := q.Get("code_challenge")
		if codeChallenge == "" {
			redirectWithError(w, r, redirectURI, state, "invalid_request", "code_challenge is required (PKCE)")
			return
		}

		if m := q.Get("code_challenge_method"); m != "" && m != "S256" {
			redirectWithError(w, r, redirectURI, state, "invalid_request", "only S256 code_challenge_method is supported")
			return
		}

		requestID, ok := AccessRequestID(q.Get("scope"))
		if !ok {
			redirectWithError(w, r, redirectURI, state, "invalid_scope", "scope must name an access request")
			return
		}

		code, err := s.IssueCode(client.ClientID, redirectURI, codeChallenge, sess.UserID, requestID)
		if err != nil {
			if apperrors.StatusOf(err) >= http.StatusInternalServerError {
				respond.Error(w, s.logger, err)
				return
			}

			s.logger.Info("apps: authorization denied",
				slog.String("client_id", client.ClientID),
				slog.String("user_id", sess.UserID),
				slog.String("access_request_id", requestID),
				slog.String("reason", err.Error()),
			)
			redirectWithError(w, r, redirectURI, state, "access_denied", "access request is not approved for this user and app")

			return
		}

		params := url.Values{}
		params.Set("code", code)

		if state != "" {
			params.Set("state", state)
		}

		// RFC 9207: include the issuer identifier to prevent mix-up attacks.
		if iss, err := issuer(r); err == nil {
			params.Set("iss", iss)
		}

		http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
	}
}

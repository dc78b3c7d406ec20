package apps

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
)

// maxRequestBody caps OAuth endpoint bodies.
const maxRequestBody = 64 << 10

// oauthError is an RFC 6749 error response.
type oauthError struct {
	Code        string
	Description string
	Status      int
}

func (e *oauthError) Error() string {
	return e.Code + ": " + e.Description
}

func errInvalidGrant(desc string) error {
	return &oauthError{Code: "invalid_grant", Description: desc, Status: http.StatusBadRequest}
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	ClientID     string `json:"client_id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// HandleToken returns the app token endpoint handler. Bodies may be
// form-encoded or JSON.
func (s *Service) HandleToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		req, err := parseTokenRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		switch {
		case req.GrantType != "authorization_code":
			writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code")
			return
		case req.Code == "":
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing code")
			return
		}

		issued, err := s.Exchange(r.Context(), req.Code, req.ClientID, req.RedirectURI, req.CodeVerifier)
		if err != nil {
			s.writeTokenError(w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		respond.JSON(w, http.StatusOK, tokenResponse{
			AccessToken: issued.AccessToken,
			TokenType:   "Bearer",
			ExpiresIn:   int(issued.ExpiresIn.Seconds()),
			Scope:       issued.Scope.String(),
		})
	}
}

func parseTokenRequest(r *http.Request) (tokenRequest, error) {
	var req tokenRequest

	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("malformed JSON body")
		}

		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, errors.New("malformed form body")
	}

	f := r.PostForm

	return tokenRequest{
		GrantType:    f.Get("grant_type"),
		Code:         f.Get("code"),
		RedirectURI:  f.Get("redirect_uri"),
		CodeVerifier: f.Get("code_verifier"),
		ClientID:     f.Get("client_id"),
	}, nil
}

func (s *Service) writeTokenError(w http.ResponseWriter, err error) {
	if oe, ok := err.(*oauthError); ok {
		writeJSONError(w, oe.Status, oe.Code, oe.Description)
		return
	}

	if e := apperrors.As(err); e != nil && e.Status < http.StatusInternalServerError {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", e.Message)
		return
	}

	s.logger.Error("apps: token exchange failed", slog.String("error", err.Error()))
	writeJSONError(w, http.StatusInternalServerError, "server_error", "internal server error")
}

// verifyPKCE reports whether verifier hashes to the S256 challenge.
func verifyPKCE(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(want), []byte(challenge)) == 1
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	respond.JSON(w, status, map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}

package apps

import (
	"net/http"

	"github.com/alexjbarnes/llm-gateway/internal/respond"
)

// Endpoint paths served by the app authorization server.
const (
	AuthorizePath    = "/bodhi/v1/apps/oauth/authorize"
	TokenPath        = "/bodhi/v1/apps/oauth/token"
	RegistrationPath = "/bodhi/v1/apps/register"
)

// ServerMetadata is the RFC 8414 response.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// NewServerMetadata describes the app authorization server at baseURL.
func NewServerMetadata(baseURL string) ServerMetadata {
	return ServerMetadata{
		Issuer:                            baseURL,
		AuthorizationEndpoint:             baseURL + AuthorizePath,
		TokenEndpoint:                     baseURL + TokenPath,
		RegistrationEndpoint:              baseURL + RegistrationPath,
		ScopesSupported:                   []string{AccessRequestScopePrefix + "*"},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	}
}

// HandleServerMetadata returns the /.well-known/oauth-authorization-server
// handler. baseURL resolves the public URL for the request.
func HandleServerMetadata(baseURL func(*http.Request) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base, err := baseURL(r)
		if err != nil {
			http.Error(w, "invalid host", http.StatusBadRequest)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		respond.JSON(w, http.StatusOK, NewServerMetadata(base))
	}
}

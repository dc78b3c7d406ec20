package apps

import (
	"net/http"

	"github.com/alexjbarnes/llm-gateway/internal/respond"
)

// registrationRequest is the client registration body (RFC 7591).
type registrationRequest struct {
	ClientName              string   `json:"client_name,omitempty" validate:"max=200"`
	RedirectURIs            []string `json:"redirect_uris" validate:"required,min=1,max=10,dive,url"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// registrationResponse is the registration response.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// HandleRegistration returns the client registration handler. Apps are
// public clients; only the authorization_code grant is supported.
func (s *Service) HandleRegistration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registrationRequest
		if err := respond.Decode(w, r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
			return
		}

		client, err := s.Register(r.Context(), req.ClientName, req.RedirectURIs)
		if err != nil {
			respond.Error(w, s.logger, err)
			return
		}

		respond.JSON(w, http.StatusCreated, registrationResponse{
			ClientID:                client.ClientID,
			ClientName:              client.ClientName,
			RedirectURIs:            client.RedirectURIs,
			GrantTypes:              []string{"authorization_code"},
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: "none",
		})
	}
}

package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alexjbarnes/llm-gateway/internal/access"
	"github.com/alexjbarnes/llm-gateway/internal/apps"
	"github.com/alexjbarnes/llm-gateway/internal/auth"
	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/oauth"
	"github.com/alexjbarnes/llm-gateway/internal/respond"
	"github.com/alexjbarnes/llm-gateway/internal/session"
	"github.com/alexjbarnes/llm-gateway/internal/tokens"
	"github.com/alexjbarnes/llm-gateway/internal/users"
)

type handlers struct {
	flow         *oauth.Flow
	sessions     *session.Manager
	tokens       *tokens.Manager
	userRequests *access.UserRequests
	appRequests  *access.AppRequests
	apps         *apps.Service
	users        *users.Service
	logger       *slog.Logger
}

// baseURL is the public URL for r.
func (h *handlers) baseURL(r *http.Request) (string, error) {
	return h.flow.BaseURL(r.Host)
}

// sessionAuth returns the session identity. Routes using it are
// guarded by a session policy, so a miss is a wiring bug.
func sessionAuth(r *http.Request) (models.SessionAuth, error) {
	sa, ok := auth.FromContext(r.Context()).(models.SessionAuth)
	if !ok {
		return models.SessionAuth{}, apperrors.ErrSessionOnly
	}

	return sa, nil
}

// pageParams reads page and page_size. Missing or malformed values
// fall back to the defaults.
func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	return access.NormalizePage(page, size)
}

// pageResponse is the list envelope.
type pageResponse[T any] struct {
	Data     []T `json:"data"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func newPage[T any](data []T, total, page, size int) pageResponse[T] {
	if data == nil {
		data = []T{}
	}

	return pageResponse[T]{Data: data, Total: total, Page: page, PageSize: size}
}

// --- Identity and login ---

type userInfoResponse struct {
	AuthStatus string `json:"auth_status"`
	Kind       string `json:"kind,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Username   string `json:"username,omitempty"`
	Role       string `json:"role,omitempty"`
	Scope      string `json:"scope,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
}

func (h *handlers) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())

	resp := userInfoResponse{AuthStatus: "logged_in", Kind: models.Kind(ac), UserID: models.UserIDOf(ac)}

	switch a := ac.(type) {
	case models.Anonymous:
		resp = userInfoResponse{AuthStatus: "logged_out"}
	case models.SessionAuth:
		resp.Username = a.Username
		if a.Role != nil {
			resp.Role = a.Role.String()
		}
	case models.APITokenAuth:
		resp.Scope = a.Scope.String()
	case models.ExternalAppAuth:
		resp.Scope = a.Scope.String()
		resp.ClientID = a.ClientID
	}

	respond.JSON(w, http.StatusOK, resp)
}

type locationResponse struct {
	Location string `json:"location"`
}

func (h *handlers) handleInitiate(w http.ResponseWriter, r *http.Request) {
	sid, _ := h.sessions.SessionID(r)

	res, err := h.flow.Initiate(r.Context(), sid, r.Host)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	http.SetCookie(w, h.sessions.Cookie(res.SessionID))

	status := http.StatusCreated
	if res.Authenticated {
		status = http.StatusOK
	}

	respond.JSON(w, status, locationResponse{Location: res.Location})
}

func (h *handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	sid, _ := h.sessions.SessionID(r)

	res, err := h.flow.Callback(r.Context(), sid, r.URL.Query(), r.Host)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	http.SetCookie(w, h.sessions.Cookie(res.SessionID))
	respond.JSON(w, http.StatusOK, locationResponse{Location: res.Location})
}

func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	sid, _ := h.sessions.SessionID(r)

	location, err := h.flow.Logout(r.Context(), sid, r.Host)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	http.SetCookie(w, h.sessions.ClearCookie())
	respond.JSON(w, http.StatusOK, locationResponse{Location: location})
}

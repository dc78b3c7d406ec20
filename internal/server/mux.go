// Package server wires the gateway's HTTP surface: routes, identity
// resolution, role policies and public endpoint rate limits.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/llm-gateway/internal/access"
	"github.com/alexjbarnes/llm-gateway/internal/apps"
	"github.com/alexjbarnes/llm-gateway/internal/auth"
	"github.com/alexjbarnes/llm-gateway/internal/models"
	"github.com/alexjbarnes/llm-gateway/internal/oauth"
	"github.com/alexjbarnes/llm-gateway/internal/session"
	"github.com/alexjbarnes/llm-gateway/internal/tokens"
	"github.com/alexjbarnes/llm-gateway/internal/users"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Flow         *oauth.Flow
	Sessions     *session.Manager
	Resolver     *auth.Resolver
	Tokens       *tokens.Manager
	UserRequests *access.UserRequests
	AppRequests  *access.AppRequests
	Apps         *apps.Service
	Users        *users.Service
	MCPHandler   http.Handler
	Limiter      *RateLimiter
	Logger       *slog.Logger
}

// NewMux builds the gateway's routes. Every route that needs an
// identity runs behind the resolver; role checks are declared per
// route with auth.Require.
func NewMux(cfg MuxConfig) http.Handler {
	h := &handlers{
		flow:         cfg.Flow,
		sessions:     cfg.Sessions,
		tokens:       cfg.Tokens,
		userRequests: cfg.UserRequests,
		appRequests:  cfg.AppRequests,
		apps:         cfg.Apps,
		users:        cfg.Users,
		logger:       cfg.Logger,
	}

	optional := cfg.Resolver.Optional
	guard := func(policy auth.Policy, next http.Handler) http.Handler {
		return cfg.Resolver.Required(auth.Require(policy, cfg.Logger)(next))
	}
	limit := cfg.Limiter.Middleware

	anySession := auth.SessionOnly()
	user := auth.SessionRole(models.RoleUser)
	manager := auth.SessionRole(models.RoleManager)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", handlePing)

	// Identity and login.
	mux.Handle("GET /bodhi/v1/user", optional(http.HandlerFunc(h.handleUserInfo)))
	mux.Handle("GET /bodhi/v1/auth/initiate", optional(http.HandlerFunc(h.handleInitiate)))
	mux.HandleFunc("GET /bodhi/v1/auth/callback", h.handleCallback)
	mux.HandleFunc("POST /bodhi/v1/logout", h.handleLogout)

	// API tokens.
	mux.Handle("POST /bodhi/v1/tokens", guard(user, http.HandlerFunc(h.handleCreateToken)))
	mux.Handle("GET /bodhi/v1/tokens", guard(user, http.HandlerFunc(h.handleListTokens)))
	mux.Handle("PATCH /bodhi/v1/tokens/{id}", guard(user, http.HandlerFunc(h.handleUpdateToken)))

	// Access requests. Approve serves both user and app requests; the
	// workflow enforces the manager rank for user requests.
	mux.Handle("POST /bodhi/v1/access-requests", guard(anySession, http.HandlerFunc(h.handleRequestAccess)))
	mux.Handle("GET /bodhi/v1/user/request-status", guard(anySession, http.HandlerFunc(h.handleRequestStatus)))
	mux.Handle("GET /bodhi/v1/access-requests", guard(manager, http.HandlerFunc(h.handleListRequests)))
	mux.Handle("PUT /bodhi/v1/access-requests/{id}/approve", guard(user, http.HandlerFunc(h.handleApprove)))
	mux.Handle("POST /bodhi/v1/access-requests/{id}/reject", guard(manager, http.HandlerFunc(h.handleReject)))
	mux.Handle("GET /bodhi/v1/access-requests/{id}/review", guard(user, http.HandlerFunc(h.handleReview)))
	mux.Handle("POST /bodhi/v1/access-requests/{id}/deny", guard(user, http.HandlerFunc(h.handleDeny)))

	// Third-party apps.
	mux.Handle("POST "+apps.RegistrationPath, limit(cfg.Apps.HandleRegistration()))
	mux.Handle("POST /bodhi/v1/apps/access-requests", limit(http.HandlerFunc(h.handleCreateAppRequest)))
	mux.Handle("GET /bodhi/v1/apps/access-requests/{id}", limit(http.HandlerFunc(h.handleAppRequestStatus)))
	mux.Handle("GET "+apps.AuthorizePath, guard(anySession, cfg.Apps.HandleAuthorize(h.baseURL)))
	mux.Handle("POST "+apps.TokenPath, limit(cfg.Apps.HandleToken()))
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", apps.HandleServerMetadata(h.baseURL))

	// User management.
	mux.Handle("GET /bodhi/v1/users", guard(manager, http.HandlerFunc(h.handleListUsers)))
	mux.Handle("PUT /bodhi/v1/users/{id}/role", guard(manager, http.HandlerFunc(h.handleChangeRole)))
	mux.Handle("DELETE /bodhi/v1/users/{id}", guard(manager, http.HandlerFunc(h.handleRemoveUser)))

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", guard(auth.AnyRole(models.RoleUser), cfg.MCPHandler))
	}

	return LogRequests(cfg.Logger)(mux)
}

func handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"message":"pong"}` + "\n"))
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/llm-gateway/internal/access"
	"github.com/alexjbarnes/llm-gateway/internal/apps"
	"github.com/alexjbarnes/llm-gateway/internal/auth"
	"github.com/alexjbarnes/llm-gateway/internal/config"
	"github.com/alexjbarnes/llm-gateway/internal/logging"
	"github.com/alexjbarnes/llm-gateway/internal/mcpserver"
	"github.com/alexjbarnes/llm-gateway/internal/oauth"
	"github.com/alexjbarnes/llm-gateway/internal/resources"
	"github.com/alexjbarnes/llm-gateway/internal/server"
	"github.com/alexjbarnes/llm-gateway/internal/session"
	"github.com/alexjbarnes/llm-gateway/internal/state"
	"github.com/alexjbarnes/llm-gateway/internal/tokens"
	"github.com/alexjbarnes/llm-gateway/internal/users"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// limiterSweepInterval is how often idle per-IP rate limiters are dropped.
const limiterSweepInterval = 5 * time.Minute

func main() {
	// Handle gen-secret subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "gen-secret" {
		genSecret()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// genSecret prints a value suitable for SESSION_SECRET.
func genSecret() {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(base64.RawURLEncoding.EncodeToString(b))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("llm-gateway starting",
		slog.String("version", Version),
		slog.String("state_db", cfg.StateDBPath),
	)

	appState, err := state.LoadAt(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	registry, err := resources.NewFileRegistry(cfg.ResourcesFile, logger.With(slog.String("service", "resources")))
	if err != nil {
		return fmt.Errorf("loading resources: %w", err)
	}

	sessions, err := session.NewManager(session.NewBoltStore(appState), cfg.SessionSecret, cfg.SessionTTL, cfg.CookieSecure, logger)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	provider := oauth.NewHTTPProvider(oauth.ProviderConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		UserInfoURL:  cfg.OAuthUserInfoURL,
		Scopes:       cfg.OAuthScopes,
		Timeout:      cfg.OAuthTimeout,
	}, nil)

	flow := oauth.NewFlow(oauth.FlowConfig{
		Provider:  provider,
		Sessions:  sessions,
		Users:     appState,
		PublicURL: cfg.PublicURL(),
		Scheme:    cfg.PublicScheme,
		Logger:    logger.With(slog.String("service", "oauth")),
	})

	tokenMgr := tokens.NewManager(appState, logger)
	appSvc := apps.NewService(appState, cfg.AppTokenTTL, logger.With(slog.String("service", "apps")))
	limiter := server.NewRateLimiter(cfg.PublicRateLimit, cfg.PublicRateBurst, logger)

	resolver := auth.NewResolver(auth.ResolverConfig{
		Tokens:    tokenMgr,
		Apps:      appSvc,
		Sessions:  sessions,
		Refresher: flow,
		Logger:    logger,
	})

	mux := server.NewMux(server.MuxConfig{
		Flow:         flow,
		Sessions:     sessions,
		Resolver:     resolver,
		Tokens:       tokenMgr,
		UserRequests: access.NewUserRequests(appState, sessions, logger),
		AppRequests:  access.NewAppRequests(appState, registry, cfg.AppAccessRequestTTL, logger),
		Apps:         appSvc,
		Users:        users.NewService(appState, sessions, logger),
		MCPHandler: mcpserver.NewHandler(mcpserver.Deps{
			Resources: registry,
			Grants:    appState,
			Version:   Version,
		}),
		Limiter: limiter,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sessions.RunGC(gctx)
	})

	g.Go(func() error {
		return appSvc.RunGC(gctx)
	})

	g.Go(func() error {
		return registry.Watch(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	})

	// Shutdown when context is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("listen", cfg.ListenAddr),
			slog.String("public_url", cfg.PublicURL()),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	return g.Wait()
}

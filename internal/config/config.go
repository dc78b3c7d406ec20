package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// sessionSecretMinLen is the minimum length of SESSION_SECRET. The
	// cookie signing key is derived from it.
	sessionSecretMinLen = 32
)

// Config holds all environment-based configuration for the gateway.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":1135"`

	// Public address the browser uses to reach the gateway. When
	// PUBLIC_HOST is empty, callback URLs are derived from the request
	// Host header instead.
	PublicScheme string `env:"PUBLIC_SCHEME" envDefault:"http"`
	PublicHost   string `env:"PUBLIC_HOST"`
	PublicPort   int    `env:"PUBLIC_PORT" envDefault:"0"`

	// Path to the bbolt database holding users, sessions, tokens and
	// access requests. Defaults to ~/.llm-gateway/state.db.
	StateDBPath string `env:"STATE_DB_PATH"`

	// Upstream identity provider (OAuth2/OIDC).
	OAuthClientID     string        `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string        `env:"OAUTH_CLIENT_SECRET"`
	OAuthAuthURL      string        `env:"OAUTH_AUTH_URL"`
	OAuthTokenURL     string        `env:"OAUTH_TOKEN_URL"`
	OAuthUserInfoURL  string        `env:"OAUTH_USERINFO_URL"`
	OAuthScopes       []string      `env:"OAUTH_SCOPES" envDefault:"openid,email,profile,roles" envSeparator:","`
	OAuthTimeout      time.Duration `env:"OAUTH_TIMEOUT" envDefault:"10s"`

	// Sessions.
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"false"`

	// External app delegation.
	AppTokenTTL         time.Duration `env:"APP_TOKEN_TTL" envDefault:"1h"`
	AppAccessRequestTTL time.Duration `env:"APP_ACCESS_REQUEST_TTL" envDefault:"10m"`

	// YAML file listing the toolset and MCP server instances users own.
	ResourcesFile string `env:"RESOURCES_FILE"`

	// Requests per second allowed per client IP on unauthenticated app
	// endpoints.
	PublicRateLimit float64 `env:"PUBLIC_RATE_LIMIT" envDefault:"1"`
	PublicRateBurst int     `env:"PUBLIC_RATE_BURST" envDefault:"10"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StateDBPath == "" {
		p, err := DefaultStateDBPath()
		if err != nil {
			return nil, err
		}

		cfg.StateDBPath = p
	}

	absPath, err := filepath.Abs(cfg.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("resolving state db path: %w", err)
	}

	cfg.StateDBPath = absPath

	return cfg, nil
}

func (c *Config) validate() error {
	if c.OAuthClientID == "" {
		return fmt.Errorf("OAUTH_CLIENT_ID is required")
	}

	for name, raw := range map[string]string{
		"OAUTH_AUTH_URL":     c.OAuthAuthURL,
		"OAUTH_TOKEN_URL":    c.OAuthTokenURL,
		"OAUTH_USERINFO_URL": c.OAuthUserInfoURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}

		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}

	if len(c.SessionSecret) < sessionSecretMinLen {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters", sessionSecretMinLen)
	}

	if c.PublicScheme != "http" && c.PublicScheme != "https" {
		return fmt.Errorf("PUBLIC_SCHEME must be http or https")
	}

	if c.PublicPort < 0 || c.PublicPort > 65535 {
		return fmt.Errorf("PUBLIC_PORT out of range")
	}

	if c.OAuthTimeout <= 0 {
		return fmt.Errorf("OAUTH_TIMEOUT must be positive")
	}

	if c.SessionTTL <= 0 || c.AppTokenTTL <= 0 || c.AppAccessRequestTTL <= 0 {
		return fmt.Errorf("SESSION_TTL, APP_TOKEN_TTL and APP_ACCESS_REQUEST_TTL must be positive")
	}

	if c.IsProduction() && !c.CookieSecure {
		return fmt.Errorf("COOKIE_SECURE must be true in production")
	}

	return nil
}

// PublicURL returns the configured public base URL, or "" when
// PUBLIC_HOST is unset. Default ports for the scheme are omitted.
func (c *Config) PublicURL() string {
	if c.PublicHost == "" {
		return ""
	}

	host := c.PublicHost
	if c.PublicPort != 0 && !isDefaultPort(c.PublicScheme, c.PublicPort) {
		host = fmt.Sprintf("%s:%d", host, c.PublicPort)
	}

	return strings.TrimRight(c.PublicScheme+"://"+host, "/")
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DefaultStateDBPath returns ~/.llm-gateway/state.db.
func DefaultStateDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".llm-gateway", "state.db"), nil
}

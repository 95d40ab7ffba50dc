package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppPort       string `env:"APP_PORT" envDefault:"8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	Debug         bool   `env:"DEBUG"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	KeycloakIssuer        string `env:"KEYCLOAK_ISSUER"`
	KeycloakClientID      string `env:"KEYCLOAK_CLIENT_ID"`
	KeycloakRedirectURL   string `env:"KEYCLOAK_REDIRECT_URL"`
	KeycloakPublicBaseURL string `env:"KEYCLOAK_PUBLIC_BASE_URL"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `env:"GITHUB_REDIRECT_URL"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	DatabaseDSN      string `env:"DATABASE_DSN"`
	MaxDBConnections int    `env:"MAX_DB_CONNECTIONS" envDefault:"25"`
	DefaultOrgKey    string `env:"DEFAULT_ORGANIZATION" envDefault:"default-organization"`

	// SessionSigningKey signs session tokens (HS256). At least 32 bytes.
	SessionSigningKey string        `env:"SESSION_SIGNING_KEY"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionIssuer     string        `env:"SESSION_ISSUER" envDefault:"identity-service"`
	CookieSecure      bool          `env:"COOKIE_SECURE" envDefault:"true"`

	// Transient parameter cookies: hash key (32 or 64 bytes) and AES key (16, 24 or 32 bytes).
	// Left empty, random keys are generated at startup and in-flight logins do not survive restarts.
	TransientHashKey    string        `env:"TRANSIENT_HASH_KEY"`
	TransientEncryptKey string        `env:"TRANSIENT_ENCRYPT_KEY"`
	TransientTTL        time.Duration `env:"TRANSIENT_TTL" envDefault:"5m"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first configuration problem that would prevent the server from starting.
func (c Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	if c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR is required")
	}
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL)
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if c.TransientTTL <= 0 {
		return errors.New("config: TRANSIENT_TTL must be positive")
	}
	if c.SessionSigningKey != "" && len(c.SessionSigningKey) < 32 {
		return errors.New("config: SESSION_SIGNING_KEY must be at least 32 bytes")
	}
	return nil
}

// GoogleEnabled reports whether the google provider has credentials configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" || c.GoogleClientSecret != ""
}

func (c Config) KeycloakEnabled() bool {
	return c.KeycloakIssuer != ""
}

func (c Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" || c.GitHubClientSecret != ""
}

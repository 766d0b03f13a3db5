// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/trustline/trustline/internal/model"
)

// minSecretLen is enforced for shared secrets outside development.
const minSecretLen = 32

// Common holds settings shared by both services.
type Common struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Honor X-Forwarded-For / X-Real-IP. Enable only behind a proxy that
	// overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Shared credential pair for auth -> org calls
	ServiceToken  string `env:"SERVICE_TOKEN,required,notEmpty"`
	ServiceSecret string `env:"SERVICE_SECRET,required,notEmpty"`
}

// IsDevelopment returns true if running in development mode.
func (c *Common) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Common) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Common) validate() error {
	if c.IsDevelopment() {
		return nil
	}
	if len(c.ServiceSecret) < minSecretLen {
		return fmt.Errorf("SERVICE_SECRET must be at least %d bytes", minSecretLen)
	}
	return nil
}

// AuthConfig configures the auth service.
type AuthConfig struct {
	Common

	// Identity presented to the org service
	ServiceID string `env:"SERVICE_ID" envDefault:"auth-service"`

	// Session tokens
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"auth-service"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	// Org service client
	OrgServiceURL     string        `env:"ORG_SERVICE_URL,required,notEmpty"`
	OrgConnectTimeout time.Duration `env:"ORG_CONNECT_TIMEOUT" envDefault:"3050ms"`
	OrgReadTimeout    time.Duration `env:"ORG_READ_TIMEOUT" envDefault:"27s"`

	// Cache (Redis). Empty disables login rate limiting.
	RedisURL string `env:"REDIS_URL"`

	// Rate limiting
	RateLimitLoginEnabled bool `env:"RATE_LIMIT_LOGIN_ENABLED" envDefault:"true"`
	RateLimitLoginRPM     int  `env:"RATE_LIMIT_LOGIN_RPM" envDefault:"30"`
	RateLimitLoginBurst   int  `env:"RATE_LIMIT_LOGIN_BURST" envDefault:"10"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`
}

// Identity returns the identity the auth service signs with.
func (c *AuthConfig) Identity() model.ServiceIdentity {
	return model.ServiceIdentity{
		ServiceID: c.ServiceID,
		Token:     c.ServiceToken,
		Secret:    []byte(c.ServiceSecret),
	}
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *AuthConfig) GetCORSAllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// RateLimitEnabled reports whether login rate limiting should run.
func (c *AuthConfig) RateLimitEnabled() bool {
	return c.RateLimitLoginEnabled && c.RedisURL != ""
}

// Validate checks cross-field constraints env tags cannot express.
func (c *AuthConfig) Validate() error {
	if err := c.Common.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ServiceID) == "" {
		return errors.New("SERVICE_ID must not be empty")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if !c.IsDevelopment() && len(c.JWTSecret) < minSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLen)
	}
	if !strings.HasPrefix(c.OrgServiceURL, "http://") && !strings.HasPrefix(c.OrgServiceURL, "https://") {
		return errors.New("ORG_SERVICE_URL must be an http(s) URL")
	}
	return nil
}

// OrgConfig configures the org service.
type OrgConfig struct {
	Common

	// The only caller allowed on /internal routes
	PeerServiceID string        `env:"PEER_SERVICE_ID" envDefault:"auth-service"`
	ReplayWindow  time.Duration `env:"REPLAY_WINDOW" envDefault:"300s"`
}

// PeerIdentity returns the identity the org service accepts.
func (c *OrgConfig) PeerIdentity() model.ServiceIdentity {
	return model.ServiceIdentity{
		ServiceID: c.PeerServiceID,
		Token:     c.ServiceToken,
		Secret:    []byte(c.ServiceSecret),
	}
}

// Validate checks cross-field constraints env tags cannot express.
func (c *OrgConfig) Validate() error {
	if err := c.Common.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.PeerServiceID) == "" {
		return errors.New("PEER_SERVICE_ID must not be empty")
	}
	if c.ReplayWindow <= 0 {
		return errors.New("REPLAY_WINDOW must be positive")
	}
	if c.ReplayWindow%time.Second != 0 {
		return errors.New("REPLAY_WINDOW must be a whole number of seconds")
	}
	return nil
}

// LoadAuth parses environment variables for the auth service.
// Returns an error if required variables are missing.
func LoadAuth() (*AuthConfig, error) {
	cfg := &AuthConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrg parses environment variables for the org service.
func LoadOrg() (*OrgConfig, error) {
	cfg := &OrgConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

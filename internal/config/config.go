// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config holds everything the authorization core needs from its environment.
type Config struct {
	AppName string `env:"APP_NAME" envDefault:"Auth Core"`
	Env     string `env:"ENV" envDefault:"DEV"`
	Port    string `env:"PORT" envDefault:"8080"`

	// Issuer is the iss claim stamped into every token and published in
	// the discovery document.
	Issuer string `env:"ISSUER_URL" envDefault:"http://localhost:8080"`

	// SigningSecret is the symmetric key access and ID tokens are signed
	// under. SigningKeyID is published as the kid header.
	SigningSecret string `env:"SIGNING_SECRET,required"`
	SigningKeyID  string `env:"SIGNING_KEY_ID" envDefault:"primary"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthCodeTTL     time.Duration `env:"AUTH_CODE_TTL" envDefault:"60s"`

	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`

	// TokenStorePath is the bbolt file backing the refresh token store.
	TokenStorePath string `env:"TOKEN_STORE_PATH" envDefault:"./data/tokens.db"`

	// ClientsFile and EntitlementsFile are JSON registration snapshots
	// loaded at startup. Live registration belongs to the surrounding
	// platform's admin surfaces.
	ClientsFile      string `env:"CLIENTS_FILE" envDefault:"./data/clients.json"`
	EntitlementsFile string `env:"ENTITLEMENTS_FILE" envDefault:"./data/entitlements.json"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.Load] parsing environment")
	}
	if len(cfg.SigningSecret) < 32 {
		return nil, errors.New("[config.Load] SIGNING_SECRET must be at least 32 bytes")
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

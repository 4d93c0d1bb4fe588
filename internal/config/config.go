// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/subtask-dev/subtask/internal/util"
)

// Session store backends.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
	SessionBolt   = "bolt"
)

// Credential store backends.
const (
	CredentialMemory   = "memory"
	CredentialBolt     = "bolt"
	CredentialPostgres = "postgres"
)

// Config is the server configuration. Every field can be set through a
// SUBTASK_ prefixed environment variable.
type Config struct {
	Port    int    `env:"PORT" envDefault:"8080"`
	DataDir string `env:"DATA_DIR" envDefault:"./data"`
	TLSCert string `env:"TLS_CERT"`
	TLSKey  string `env:"TLS_KEY"`

	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"memory"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	// SessionKey is the hex encoded key wrapping the bolt session store key.
	SessionKey string `env:"SESSION_KEY"`

	CredentialBackend string `env:"CREDENTIAL_BACKEND" envDefault:"bolt"`
	PostgresDSN       string `env:"POSTGRES_DSN"`
	// ConnectionKey is the hex encoded key sealing provider tokens at rest.
	ConnectionKey string `env:"CONNECTION_KEY"`

	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	OTLPEndpoint   string   `env:"OTLP_ENDPOINT"`

	GitHub ProviderConfig `envPrefix:"GITHUB_"`
	Google ProviderConfig `envPrefix:"GOOGLE_"`
}

// ProviderConfig holds the OAuth client settings of one connection
// provider. A provider without a client id is not registered.
type ProviderConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURL  string   `env:"REDIRECT_URL"`
	Scopes       []string `env:"SCOPES" envSeparator:","`

	// Endpoint overrides, mostly for GitHub Enterprise and tests.
	AuthURL  string `env:"AUTH_URL"`
	TokenURL string `env:"TOKEN_URL"`
	APIURL   string `env:"API_URL"`
	Issuer   string `env:"ISSUER"`
}

// Enabled reports whether the provider has client credentials.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != ""
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "SUBTASK_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls cert and key must be set together"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("session ttl must be positive, got %s", c.SessionTTL))
	}

	switch c.SessionBackend {
	case SessionMemory, SessionRedis:
	case SessionBolt:
		if c.SessionKey == "" {
			errs = append(errs, errors.New("session key is required for the bolt session backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.SessionBackend))
	}
	if c.SessionKey != "" {
		if _, err := decodeKey(c.SessionKey); err != nil {
			errs = append(errs, fmt.Errorf("session key: %w", err))
		}
	}

	switch c.CredentialBackend {
	case CredentialMemory, CredentialBolt:
	case CredentialPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for the postgres credential backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown credential backend %q", c.CredentialBackend))
	}
	if c.CredentialBackend != CredentialMemory && c.ConnectionKey == "" {
		errs = append(errs, errors.New("connection key is required for persistent credential backends"))
	}
	if c.ConnectionKey != "" {
		if _, err := decodeKey(c.ConnectionKey); err != nil {
			errs = append(errs, fmt.Errorf("connection key: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SessionKeyBytes returns the decoded session wrapping key, or nil when
// none is configured.
func (c Config) SessionKeyBytes() ([]byte, error) {
	if c.SessionKey == "" {
		return nil, nil
	}
	return decodeKey(c.SessionKey)
}

// ConnectionKeyBytes returns the decoded token sealing key, or nil when
// none is configured.
func (c Config) ConnectionKeyBytes() ([]byte, error) {
	if c.ConnectionKey == "" {
		return nil, nil
	}
	return decodeKey(c.ConnectionKey)
}

// Providers returns the enabled provider configurations keyed by provider
// name.
func (c Config) Providers() map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig, 2)
	if c.GitHub.Enabled() {
		providers["github"] = c.GitHub
	}
	if c.Google.Enabled() {
		providers["google"] = c.Google
	}
	return providers
}

func decodeKey(s string) ([]byte, error) {
	key, err := util.HexDecode(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex: %w", err)
	}
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("must be %d bytes, got %d", util.AESKeySize, len(key))
	}
	return key, nil
}

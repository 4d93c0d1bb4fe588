package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SUBTASK_CONNECTION_KEY", testKey)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, SessionMemory, cfg.SessionBackend)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, CredentialBolt, cfg.CredentialBackend)
	assert.Empty(t, cfg.Providers())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SUBTASK_PORT", "9000")
	t.Setenv("SUBTASK_SESSION_BACKEND", "redis")
	t.Setenv("SUBTASK_SESSION_TTL", "30m")
	t.Setenv("SUBTASK_CREDENTIAL_BACKEND", "memory")
	t.Setenv("SUBTASK_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.1")
	t.Setenv("SUBTASK_GITHUB_CLIENT_ID", "gh-id")
	t.Setenv("SUBTASK_GITHUB_CLIENT_SECRET", "gh-secret")
	t.Setenv("SUBTASK_GITHUB_SCOPES", "read:user,repo")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, SessionRedis, cfg.SessionBackend)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)

	providers := cfg.Providers()
	require.Contains(t, providers, "github")
	assert.NotContains(t, providers, "google")
	assert.Equal(t, "gh-secret", providers["github"].ClientSecret)
	assert.Equal(t, []string{"read:user", "repo"}, providers["github"].Scopes)
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("SUBTASK_PORT", "not-an-int")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	valid := Config{
		Port:              8080,
		SessionBackend:    SessionMemory,
		SessionTTL:        time.Hour,
		CredentialBackend: CredentialMemory,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Port = 0 }, "port 0 out of range"},
		{"tls half set", func(c *Config) { c.TLSCert = "cert.pem" }, "tls cert and key"},
		{"ttl", func(c *Config) { c.SessionTTL = 0 }, "session ttl"},
		{"session backend", func(c *Config) { c.SessionBackend = "etcd" }, `unknown session backend "etcd"`},
		{"bolt sessions need key", func(c *Config) { c.SessionBackend = SessionBolt }, "session key is required"},
		{"credential backend", func(c *Config) { c.CredentialBackend = "s3" }, `unknown credential backend "s3"`},
		{"postgres needs dsn", func(c *Config) {
			c.CredentialBackend = CredentialPostgres
			c.ConnectionKey = testKey
		}, "postgres dsn is required"},
		{"bolt needs connection key", func(c *Config) { c.CredentialBackend = CredentialBolt }, "connection key is required"},
		{"short key", func(c *Config) { c.ConnectionKey = "abcd" }, "must be 32 bytes, got 2"},
		{"bad hex", func(c *Config) { c.SessionKey = "zz" }, "decoding hex"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestKeyBytes(t *testing.T) {
	var cfg Config
	key, err := cfg.ConnectionKeyBytes()
	require.NoError(t, err)
	assert.Nil(t, key)

	cfg.ConnectionKey = testKey
	cfg.SessionKey = testKey
	key, err = cfg.ConnectionKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)
	key, err = cfg.SessionKeyBytes()
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), key[0])
}

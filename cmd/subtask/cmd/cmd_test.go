package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtask-dev/subtask/connection"
	"github.com/subtask-dev/subtask/internal/config"
	"github.com/subtask-dev/subtask/session"
)

var (
	testKey    = strings.Repeat("11", 32)
	testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
)

func TestReadPassword(t *testing.T) {
	pw, err := readPassword(strings.NewReader(" spaced pass \r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, " spaced pass ", pw)

	pw, err = readPassword(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)

	_, err = readPassword(strings.NewReader(""))
	assert.Error(t, err)
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SUBTASK_PORT", "7000")
	t.Setenv("SUBTASK_DATA_DIR", "/env/dir")
	t.Setenv("SUBTASK_CREDENTIAL_BACKEND", "memory")

	cmd := &cobra.Command{}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "")

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port, "unset flag keeps the env value")
	assert.Equal(t, "/env/dir", cfg.DataDir)

	require.NoError(t, cmd.Flags().Set("port", "9443"))
	cfg, err = loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Port)
}

func TestOpenCredentialRepository(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{config.CredentialMemory, config.CredentialBolt} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Config{CredentialBackend: backend, DataDir: t.TempDir()}
			repo, closeRepo, err := openCredentialRepository(ctx, cfg)
			require.NoError(t, err)
			defer closeRepo()

			ids, err := repo.List(ctx, "accounts", "ACCOUNT")
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}

	_, _, err := openCredentialRepository(ctx, config.Config{CredentialBackend: "s3"})
	assert.ErrorContains(t, err, "unknown credential backend")
}

func TestOpenSessionStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cases := []config.Config{
		{SessionBackend: config.SessionMemory},
		{SessionBackend: config.SessionRedis, RedisAddr: mr.Addr()},
		{SessionBackend: config.SessionBolt, SessionKey: testKey, DataDir: t.TempDir()},
	}
	for _, cfg := range cases {
		t.Run(cfg.SessionBackend, func(t *testing.T) {
			store, closeStore, err := openSessionStore(ctx, cfg)
			require.NoError(t, err)
			defer closeStore()

			sess := &session.Session{ID: "sess-1", CreationTime: time.Now().UTC(), AccessTime: time.Now().UTC()}
			require.NoError(t, store.Set(ctx, sess, time.Hour))
			got, err := store.Get(ctx, "sess-1", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, "sess-1", got.ID)
		})
	}
}

func TestOpenSessionStoreRedisUnreachable(t *testing.T) {
	_, _, err := openSessionStore(context.Background(), config.Config{SessionBackend: config.SessionRedis, RedisAddr: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "failed to reach redis")
}

func TestConnectionKey(t *testing.T) {
	key, err := connectionKey(config.Config{CredentialBackend: config.CredentialMemory}, testLogger)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = connectionKey(config.Config{CredentialBackend: config.CredentialBolt}, testLogger)
	assert.ErrorContains(t, err, "connection key is required")

	key, err = connectionKey(config.Config{CredentialBackend: config.CredentialBolt, ConnectionKey: testKey}, testLogger)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), key[0])
}

func TestBuildRegistry(t *testing.T) {
	registry, err := buildRegistry(context.Background(), config.Config{}, testLogger)
	require.NoError(t, err)
	assert.Empty(t, registry.Keys())

	cfg := config.Config{GitHub: config.ProviderConfig{ClientID: "id", ClientSecret: "secret"}}
	registry, err = buildRegistry(context.Background(), cfg, testLogger)
	require.NoError(t, err)
	assert.Equal(t, []string{"github"}, registry.Keys())

	_, err = registry.Get("google")
	assert.ErrorIs(t, err, connection.ErrUnknownProvider)

	cfg = config.Config{GitHub: config.ProviderConfig{ClientID: "id"}}
	_, err = buildRegistry(context.Background(), cfg, testLogger)
	assert.Error(t, err, "github needs a client secret")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, Version+"\n", out.String())
}

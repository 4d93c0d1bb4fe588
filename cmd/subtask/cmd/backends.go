package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/subtask-dev/subtask/internal/config"
	"github.com/subtask-dev/subtask/internal/util"
	"github.com/subtask-dev/subtask/session"
	"github.com/subtask-dev/subtask/storage"
	bboltstorage "github.com/subtask-dev/subtask/storage/bbolt"
	"github.com/subtask-dev/subtask/storage/memory"
	"github.com/subtask-dev/subtask/storage/postgres"
)

// closer releases a backend. It is never nil.
type closer func()

func nopCloser() {}

func ensureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// openCredentialRepository opens the repository holding accounts and
// connections.
func openCredentialRepository(ctx context.Context, cfg config.Config) (storage.Repository, closer, error) {
	switch cfg.CredentialBackend {
	case config.CredentialMemory:
		return memory.NewRepository(), nopCloser, nil
	case config.CredentialBolt:
		if err := ensureDataDir(cfg.DataDir); err != nil {
			return nil, nil, err
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "subtask.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credential storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case config.CredentialPostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credential storage: %w", err)
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown credential backend %q", cfg.CredentialBackend)
	}
}

// openSessionStore opens the session backend.
func openSessionStore(ctx context.Context, cfg config.Config) (session.Store, closer, error) {
	switch cfg.SessionBackend {
	case config.SessionMemory:
		return session.NewMemoryStore(), nopCloser, nil
	case config.SessionRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return session.NewRedisStore(client), func() { client.Close() }, nil
	case config.SessionBolt:
		if err := ensureDataDir(cfg.DataDir); err != nil {
			return nil, nil, err
		}
		key, err := cfg.SessionKeyBytes()
		if err != nil {
			return nil, nil, fmt.Errorf("session key: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "sessions.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		store, err := session.NewRepositoryStore(ctx, repo, key)
		util.WipeBytes(key)
		if err != nil {
			repo.Close()
			return nil, nil, err
		}
		return store, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// connectionKey returns the key sealing provider tokens. The memory backend
// may run with a throwaway key since nothing it seals outlives the process.
func connectionKey(cfg config.Config, logger *slog.Logger) ([]byte, error) {
	key, err := cfg.ConnectionKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("connection key: %w", err)
	}
	if key != nil {
		return key, nil
	}
	if cfg.CredentialBackend != config.CredentialMemory {
		return nil, fmt.Errorf("connection key is required for the %s backend", cfg.CredentialBackend)
	}
	logger.Warn("no connection key configured; using an ephemeral key")
	return util.NewAESKey()
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"github.com/subtask-dev/subtask/internal/util"
	"github.com/subtask-dev/subtask/storage"
)

const (
	repoNamespace      = "sessions"
	repoRecordType     = "SESSION"
	repoKeyType        = "SESSION_KEY"
	repoKeyID          = "current"
	repoAADPrefix      = "session:"
	repoKeyWrappingAAD = "subtask:session_key:v1"
)

type repositoryRecord struct {
	Session   Session   `json:"session"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RepositoryStore stores sessions in a storage.Repository, encrypted at rest
// with AES-256-GCM. Sessions survive restarts when the repository does.
//
// The session encryption key is sealed with an externally provided wrapping
// key before being stored, so the repository alone cannot recover session
// data. In memory the key lives in a memguard enclave.
type RepositoryStore struct {
	repo storage.Repository
	key  *memguard.Enclave
	now  func() time.Time
}

var _ Store = (*RepositoryStore)(nil)

// NewRepositoryStore creates a session store backed by repo. wrappingKey must
// be 32 bytes and is never written to the repository.
func NewRepositoryStore(ctx context.Context, repo storage.Repository, wrappingKey []byte) (*RepositoryStore, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}
	key, err := loadOrCreateSessionKey(ctx, repo, wrappingKey)
	if err != nil {
		return nil, err
	}
	return &RepositoryStore{
		repo: repo,
		key:  memguard.NewEnclave(key),
		now:  time.Now,
	}, nil
}

func (s *RepositoryStore) Get(ctx context.Context, id string, renew time.Duration) (*Session, error) {
	env, err := s.repo.Get(ctx, repoNamespace, repoRecordType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec, err := s.open(id, env)
	if err != nil {
		// Unreadable records (rotated wrapping key, corruption) behave as absent.
		_ = s.repo.Delete(ctx, repoNamespace, repoRecordType, id)
		return nil, ErrNotFound
	}

	now := s.now()
	if !now.Before(rec.ExpiresAt) {
		_ = s.repo.Delete(ctx, repoNamespace, repoRecordType, id)
		return nil, ErrNotFound
	}
	if renew > 0 {
		if err := s.put(ctx, &rec.Session, now.Add(renew)); err != nil {
			return nil, err
		}
	}
	return &rec.Session, nil
}

func (s *RepositoryStore) Set(ctx context.Context, sess *Session, ttl time.Duration) error {
	return s.put(ctx, sess, s.now().Add(ttl))
}

func (s *RepositoryStore) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, repoNamespace, repoRecordType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *RepositoryStore) put(ctx context.Context, sess *Session, expiresAt time.Time) error {
	data, err := json.Marshal(repositoryRecord{Session: *sess, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	buf, err := s.key.Open()
	if err != nil {
		return fmt.Errorf("opening session key: %w", err)
	}
	defer buf.Destroy()

	env, err := storage.SealRecord(buf.Bytes(), data, []byte(repoAADPrefix+sess.ID), 1)
	if err != nil {
		return err
	}
	return s.repo.Put(ctx, repoNamespace, repoRecordType, sess.ID, env)
}

func (s *RepositoryStore) open(id string, env *storage.Envelope) (*repositoryRecord, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key: %w", err)
	}
	defer buf.Destroy()

	data, err := storage.OpenRecord(buf.Bytes(), env, []byte(repoAADPrefix+id))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)

	var rec repositoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// loadOrCreateSessionKey loads the session encryption key from storage,
// unsealing it with the wrapping key. If no key exists, or the stored key
// cannot be unsealed because the wrapping key changed, a new random key is
// generated, sealed and persisted. Existing sessions then become unreadable.
func loadOrCreateSessionKey(ctx context.Context, repo storage.Repository, wrappingKey []byte) ([]byte, error) {
	aad := []byte(repoKeyWrappingAAD)

	env, err := repo.Get(ctx, repoNamespace, repoKeyType, repoKeyID)
	switch {
	case err == nil:
		key, openErr := storage.OpenRecord(wrappingKey, env, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	sealed, err := storage.SealRecord(wrappingKey, key, aad, 1)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new session key: %w", err)
	}
	if err := repo.Put(ctx, repoNamespace, repoKeyType, repoKeyID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, err
	}
	return key, nil
}

package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/subtask-dev/subtask/internal/util"
	"github.com/subtask-dev/subtask/storage"
)

// Store persists accounts. Implementations must reject a second account
// with the same username (compared by UsernameKey) even under concurrent
// creates.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	// Update writes a, failing with ErrConflict if the stored version no
	// longer matches a.Version.
	Update(ctx context.Context, a *Account) error
}

const (
	accountNamespace  = "accounts"
	accountRecordType = "ACCOUNT"
	// usernameRecordType indexes account ids by UsernameKey. Creating the
	// index record with a create-only CAS is the uniqueness backstop.
	usernameRecordType = "USERNAME"
)

// UsernameKey is the canonical form used for uniqueness and lookup.
func UsernameKey(username string) string {
	return strings.ToLower(util.Normalize(strings.TrimSpace(username)))
}

// RepositoryStore implements Store over a storage.Repository.
type RepositoryStore struct {
	repo storage.Repository
}

var _ Store = (*RepositoryStore)(nil)

// NewRepositoryStore returns a Store persisting accounts in repo.
func NewRepositoryStore(repo storage.Repository) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

func (s *RepositoryStore) Create(ctx context.Context, a *Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	err = s.repo.Batch(ctx, accountNamespace, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(usernameRecordType, UsernameKey(a.Username), 0, storage.PlainRecord([]byte(a.ID), 1)); err != nil {
			if errors.Is(err, storage.ErrCASFailed) {
				return ErrUsernameTaken
			}
			return err
		}
		return tx.PutCAS(accountRecordType, a.ID, 0, storage.PlainRecord(data, 1))
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return err
		}
		return fmt.Errorf("creating account: %w", err)
	}
	a.Version = 1
	return nil
}

func (s *RepositoryStore) Get(ctx context.Context, id string) (*Account, error) {
	env, err := s.repo.Get(ctx, accountNamespace, accountRecordType, id)
	if err != nil {
		return nil, notFound(err)
	}
	return decodeAccount(env)
}

func (s *RepositoryStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	env, err := s.repo.Get(ctx, accountNamespace, usernameRecordType, UsernameKey(username))
	if err != nil {
		return nil, notFound(err)
	}
	id, err := storage.OpenPlainRecord(env)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, string(id))
}

func (s *RepositoryStore) Update(ctx context.Context, a *Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	next := a.Version + 1
	err = s.repo.Batch(ctx, accountNamespace, func(tx storage.BatchTx) error {
		env, err := tx.Get(accountRecordType, a.ID)
		if err != nil {
			return notFound(err)
		}
		current, err := decodeAccount(env)
		if err != nil {
			return err
		}
		if current.Version != a.Version {
			return ErrConflict
		}

		oldKey, newKey := UsernameKey(current.Username), UsernameKey(a.Username)
		if oldKey != newKey {
			if err := tx.PutCAS(usernameRecordType, newKey, 0, storage.PlainRecord([]byte(a.ID), 1)); err != nil {
				if errors.Is(err, storage.ErrCASFailed) {
					return ErrUsernameTaken
				}
				return err
			}
			if err := tx.Delete(usernameRecordType, oldKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}

		if err := tx.PutCAS(accountRecordType, a.ID, a.Version, storage.PlainRecord(data, next)); err != nil {
			if errors.Is(err, storage.ErrCASFailed) {
				return ErrConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.Version = next
	return nil
}

func decodeAccount(env *storage.Envelope) (*Account, error) {
	data, err := storage.OpenPlainRecord(env)
	if err != nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}
	a.Version = env.Version
	return &a, nil
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

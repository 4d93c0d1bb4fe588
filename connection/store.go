package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/subtask-dev/subtask/internal/util"
	"github.com/subtask-dev/subtask/storage"
)

// Store persists connections.
type Store interface {
	Create(ctx context.Context, c *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Connection, error)
	// Update writes c, failing with ErrConflict if the stored version no
	// longer matches c.Version.
	Update(ctx context.Context, c *Connection) error
	Delete(ctx context.Context, id string) error
}

const (
	connNamespace  = "connections"
	connRecordType = "CONNECTION"
	connAADPrefix  = "connection:"
	// ownerRecordPrefix indexes connection ids per account.
	ownerRecordPrefix = "OWNER."
)

func ownerRecordType(accountID string) string {
	return ownerRecordPrefix + accountID
}

// RepositoryStore implements Store over a storage.Repository. Connection
// records, tokens included, are sealed with AES-256-GCM; the sealing key is
// kept in a memguard enclave.
type RepositoryStore struct {
	repo storage.Repository
	key  *memguard.Enclave
}

var _ Store = (*RepositoryStore)(nil)

// NewRepositoryStore returns a Store sealing records with the 32-byte key.
// key is copied; the caller may wipe it afterwards.
func NewRepositoryStore(repo storage.Repository, key []byte) (*RepositoryStore, error) {
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("connection key must be exactly %d bytes, got %d", util.AESKeySize, len(key))
	}
	return &RepositoryStore{
		repo: repo,
		key:  memguard.NewEnclave(util.CopyBytes(key)),
	}, nil
}

func (s *RepositoryStore) Create(ctx context.Context, c *Connection) error {
	env, err := s.seal(c, 1)
	if err != nil {
		return err
	}
	err = s.repo.Batch(ctx, connNamespace, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(connRecordType, c.ID, 0, env); err != nil {
			return err
		}
		return tx.Put(ownerRecordType(c.AccountID), c.ID, storage.PlainRecord(nil, 1))
	})
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	c.Version = 1
	return nil
}

func (s *RepositoryStore) Get(ctx context.Context, id string) (*Connection, error) {
	env, err := s.repo.Get(ctx, connNamespace, connRecordType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.open(id, env)
}

func (s *RepositoryStore) ListByAccount(ctx context.Context, accountID string) ([]*Connection, error) {
	ids, err := s.repo.List(ctx, connNamespace, ownerRecordType(accountID))
	if err != nil {
		return nil, err
	}
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	slices.SortFunc(conns, func(a, b *Connection) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return conns, nil
}

func (s *RepositoryStore) Update(ctx context.Context, c *Connection) error {
	next := c.Version + 1
	env, err := s.seal(c, next)
	if err != nil {
		return err
	}
	err = s.repo.PutCAS(ctx, connNamespace, connRecordType, c.ID, c.Version, env)
	if errors.Is(err, storage.ErrCASFailed) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	c.Version = next
	return nil
}

func (s *RepositoryStore) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.Batch(ctx, connNamespace, func(tx storage.BatchTx) error {
		if err := tx.Delete(connRecordType, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Delete(ownerRecordType(c.AccountID), id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil
	})
}

func (s *RepositoryStore) seal(c *Connection, version uint64) (*storage.Envelope, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)

	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening connection key: %w", err)
	}
	defer buf.Destroy()
	return storage.SealRecord(buf.Bytes(), data, []byte(connAADPrefix+c.ID), version)
}

func (s *RepositoryStore) open(id string, env *storage.Envelope) (*Connection, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening connection key: %w", err)
	}
	defer buf.Destroy()

	data, err := storage.OpenRecord(buf.Bytes(), env, []byte(connAADPrefix+id))
	if err != nil {
		return nil, fmt.Errorf("unsealing connection %s: %w", id, err)
	}
	defer util.WipeBytes(data)

	var c Connection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding connection %s: %w", id, err)
	}
	c.Version = env.Version
	return &c, nil
}

// Package storagetest holds a behavioural test suite shared by every
// storage.Repository backend.
package storagetest

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtask-dev/subtask/storage"
)

// Run exercises repo against the storage.Repository contract. Each call
// should be given a fresh, empty repository.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ns := "ns1"
	env := storage.PlainRecord([]byte(`{"k":"v"}`), 1)

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, repo.Put(t.Context(), ns, "ITEM", "i1", env))

		got, err := repo.Get(t.Context(), ns, "ITEM", "i1")
		require.NoError(t, err)
		assert.Equal(t, env.Scheme, got.Scheme)
		assert.Equal(t, env.Payload, got.Payload)
		assert.Equal(t, env.Version, got.Version)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(t.Context(), "missing-ns", "ITEM", "i1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = repo.Get(t.Context(), ns, "ITEM", "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Put(t.Context(), ns, "ITEM", "i2", env))
		require.NoError(t, repo.Put(t.Context(), ns, "OTHER", "o1", env))
		require.NoError(t, repo.Put(t.Context(), ns, "ITEMX", "x1", env))

		ids, err := repo.List(t.Context(), ns, "ITEM")
		require.NoError(t, err)
		slices.Sort(ids)
		assert.Equal(t, []string{"i1", "i2"}, ids)

		ids, err = repo.List(t.Context(), "missing-ns", "ITEM")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put(t.Context(), ns, "DEL", "d1", env))
		require.NoError(t, repo.Delete(t.Context(), ns, "DEL", "d1"))

		_, err := repo.Get(t.Context(), ns, "DEL", "d1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = repo.Delete(t.Context(), ns, "DEL", "d1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PutCAS", func(t *testing.T) {
		v1 := storage.PlainRecord([]byte("v1"), 1)
		v2 := storage.PlainRecord([]byte("v2"), 2)

		require.NoError(t, repo.PutCAS(t.Context(), ns, "CAS", "c1", 0, v1))

		err := repo.PutCAS(t.Context(), ns, "CAS", "c1", 0, v1)
		assert.ErrorIs(t, err, storage.ErrCASFailed, "create-only must fail when the record exists")

		err = repo.PutCAS(t.Context(), ns, "CAS", "missing", 1, v1)
		assert.ErrorIs(t, err, storage.ErrCASFailed, "non-zero version on a missing record must fail")

		require.NoError(t, repo.PutCAS(t.Context(), ns, "CAS", "c1", 1, v2))

		err = repo.PutCAS(t.Context(), ns, "CAS", "c1", 1, v1)
		assert.ErrorIs(t, err, storage.ErrCASFailed)

		got, err := repo.Get(t.Context(), ns, "CAS", "c1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)
	})

	t.Run("PutCASZeroVersionRecord", func(t *testing.T) {
		require.NoError(t, repo.Put(t.Context(), ns, "CAS", "zero", storage.PlainRecord([]byte("z"), 0)))
		err := repo.PutCAS(t.Context(), ns, "CAS", "zero", 0, env)
		assert.ErrorIs(t, err, storage.ErrCASFailed)
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := repo.Batch(t.Context(), "batch", func(tx storage.BatchTx) error {
			if err := tx.Put("ITEM", "b1", env); err != nil {
				return err
			}
			if err := tx.PutCAS("ITEM", "b2", 0, storage.PlainRecord([]byte("b2"), 1)); err != nil {
				return err
			}
			got, err := tx.Get("ITEM", "b2")
			if err != nil {
				return err
			}
			if got.Version != 1 {
				return fmt.Errorf("batch read own write: version %d", got.Version)
			}
			return tx.PutCAS("ITEM", "b2", 1, storage.PlainRecord([]byte("b2"), 2))
		})
		require.NoError(t, err)

		got, err := repo.Get(t.Context(), "batch", "ITEM", "b2")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)
	})

	t.Run("BatchRollback", func(t *testing.T) {
		errBoom := errors.New("boom")
		err := repo.Batch(t.Context(), "batch", func(tx storage.BatchTx) error {
			if err := tx.Put("ITEM", "b3", env); err != nil {
				return err
			}
			if err := tx.Delete("ITEM", "b1"); err != nil {
				return err
			}
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)

		_, err = repo.Get(t.Context(), "batch", "ITEM", "b3")
		assert.ErrorIs(t, err, storage.ErrNotFound, "write inside failed batch must be rolled back")
		_, err = repo.Get(t.Context(), "batch", "ITEM", "b1")
		assert.NoError(t, err, "delete inside failed batch must be rolled back")
	})

	t.Run("BatchCASConflictAborts", func(t *testing.T) {
		err := repo.Batch(t.Context(), "batch", func(tx storage.BatchTx) error {
			if err := tx.Put("ITEM", "b4", env); err != nil {
				return err
			}
			return tx.PutCAS("ITEM", "b1", 0, env)
		})
		require.ErrorIs(t, err, storage.ErrCASFailed)

		_, err = repo.Get(t.Context(), "batch", "ITEM", "b4")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

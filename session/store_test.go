package session

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtask-dev/subtask/storage/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testSession(id string) *Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Session{ID: id, CreationTime: now, AccessTime: now, AccountID: "acct-1"}
}

// storeTests exercises the Store contract. advance moves the store's notion
// of time forward.
func storeTests(t *testing.T, store Store, advance func(time.Duration)) {
	t.Helper()

	t.Run("SetAndGet", func(t *testing.T) {
		want := testSession("set-get")
		require.NoError(t, store.Set(t.Context(), want, time.Hour))

		got, err := store.Get(t.Context(), "set-get", 0)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.AccountID, got.AccountID)
		assert.True(t, want.CreationTime.Equal(got.CreationTime))
		assert.True(t, want.AccessTime.Equal(got.AccessTime))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.Get(t.Context(), "no-such-session", time.Hour)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Expires", func(t *testing.T) {
		require.NoError(t, store.Set(t.Context(), testSession("expires"), time.Hour))
		advance(61 * time.Minute)
		_, err := store.Get(t.Context(), "expires", time.Hour)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RenewOnRead", func(t *testing.T) {
		require.NoError(t, store.Set(t.Context(), testSession("renew"), time.Hour))
		advance(50 * time.Minute)
		_, err := store.Get(t.Context(), "renew", time.Hour)
		require.NoError(t, err)

		advance(50 * time.Minute)
		_, err = store.Get(t.Context(), "renew", 0)
		require.NoError(t, err, "renewed session should outlive its original expiry")

		advance(11 * time.Minute)
		_, err = store.Get(t.Context(), "renew", 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReadWithoutRenew", func(t *testing.T) {
		require.NoError(t, store.Set(t.Context(), testSession("plain-read"), time.Hour))
		advance(50 * time.Minute)
		_, err := store.Get(t.Context(), "plain-read", 0)
		require.NoError(t, err)

		advance(11 * time.Minute)
		_, err = store.Get(t.Context(), "plain-read", 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		s := testSession("overwrite")
		require.NoError(t, store.Set(t.Context(), s, time.Hour))
		s.AccountID = ""
		require.NoError(t, store.Set(t.Context(), s, time.Hour))

		got, err := store.Get(t.Context(), "overwrite", 0)
		require.NoError(t, err)
		assert.Empty(t, got.AccountID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Set(t.Context(), testSession("delete"), time.Hour))
		require.NoError(t, store.Delete(t.Context(), "delete"))

		_, err := store.Get(t.Context(), "delete", 0)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, store.Delete(t.Context(), "delete"), "deleting a missing session is not an error")
	})
}

func TestMemoryStore(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.now = clock.Now
	storeTests(t, store, clock.Advance)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client)
	storeTests(t, store, mr.FastForward)

	t.Run("KeyPrefix", func(t *testing.T) {
		require.NoError(t, store.Set(t.Context(), testSession("prefixed"), time.Hour))
		assert.True(t, mr.Exists("session:prefixed"))
	})
}

func newTestRepositoryStore(t *testing.T, repo *memory.Repository, wrappingKey []byte, clock *fakeClock) *RepositoryStore {
	t.Helper()
	store, err := NewRepositoryStore(t.Context(), repo, wrappingKey)
	require.NoError(t, err)
	store.now = clock.Now
	return store
}

func TestRepositoryStore(t *testing.T) {
	clock := newFakeClock()
	repo := memory.NewRepository()
	wrappingKey := bytes.Repeat([]byte{7}, 32)
	store := newTestRepositoryStore(t, repo, wrappingKey, clock)

	storeTests(t, store, clock.Advance)

	t.Run("EncryptedAtRest", func(t *testing.T) {
		require.NoError(t, store.Set(t.Context(), testSession("at-rest"), time.Hour))
		env, err := repo.Get(t.Context(), repoNamespace, repoRecordType, "at-rest")
		require.NoError(t, err)
		assert.NotContains(t, string(env.Payload), "acct-1")
	})

	t.Run("SurvivesRestart", func(t *testing.T) {
		require.NoError(t, store.Set(t.Context(), testSession("restart"), time.Hour))

		reopened := newTestRepositoryStore(t, repo, wrappingKey, clock)
		got, err := reopened.Get(t.Context(), "restart", 0)
		require.NoError(t, err)
		assert.Equal(t, "acct-1", got.AccountID)
	})

	t.Run("RotatedWrappingKey", func(t *testing.T) {
		require.NoError(t, store.Set(t.Context(), testSession("rotated"), time.Hour))

		rotated := newTestRepositoryStore(t, repo, bytes.Repeat([]byte{9}, 32), clock)
		_, err := rotated.Get(t.Context(), "rotated", 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RejectsShortWrappingKey", func(t *testing.T) {
		_, err := NewRepositoryStore(t.Context(), repo, []byte("short"))
		assert.Error(t, err)
	})
}

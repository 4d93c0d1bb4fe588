package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/subtask-dev/subtask/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SUBTASK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SUBTASK_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := t.Context()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "could not connect to postgres")
	require.NoError(t, EnsureSchema(ctx, pool), "could not ensure schema")

	// Clean tables for test isolation.
	pool.Exec(ctx, "DELETE FROM subtask_records") //nolint:errcheck

	t.Cleanup(func() {
		pool.Exec(context.Background(), "DELETE FROM subtask_records") //nolint:errcheck
		pool.Close()
	})
	return NewRepository(pool)
}

func TestPostgresStorage(t *testing.T) {
	storagetest.Run(t, newTestStore(t))
}

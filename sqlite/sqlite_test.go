package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type kvRow struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func TestMigrationsApplied(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	v, err := store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 1, v)

	tables, err := store.tableNames()
	require.NoError(t, err)
	require.Contains(t, tables, "kv")
}

func TestMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewTestStore(t)

	// a second run has nothing to do and must not error
	err := NewMigrator(store, zap.NewNop()).Up(context.Background(), Migrations)
	require.NoError(t, err)

	v, err := store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestUpdatedAtTrigger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTestStore(t)

	err := store.execTrans(ctx, `INSERT INTO kv (key, value) VALUES ("users:1", '"alice"')`)
	require.NoError(t, err)

	var before kvRow
	require.NoError(t, store.DB.Get(&before, `SELECT * FROM kv WHERE key = "users:1"`))
	require.False(t, before.CreatedAt.IsZero())
	require.WithinDuration(t, before.CreatedAt, before.UpdatedAt, 50*time.Millisecond)

	// the trigger timestamps with millisecond precision
	time.Sleep(10 * time.Millisecond)

	err = store.execTrans(ctx, `UPDATE kv SET value = '"bob"' WHERE key = "users:1"`)
	require.NoError(t, err)

	var after kvRow
	require.NoError(t, store.DB.Get(&after, `SELECT * FROM kv WHERE key = "users:1"`))
	require.Equal(t, before.CreatedAt, after.CreatedAt)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestFlush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTestStore(t)

	err := store.execTrans(ctx, `INSERT INTO kv (key, value) VALUES ("one", "1"), ("two", "2"), ("three", "3")`)
	require.NoError(t, err)

	vals, err := store.queryToStrings(`SELECT key FROM kv`)
	require.NoError(t, err)
	require.Equal(t, 3, len(vals))

	store.Flush(context.Background())

	vals, err = store.queryToStrings(`SELECT key FROM kv`)
	require.NoError(t, err)
	require.Equal(t, 0, len(vals))

	// the schema and its version bookkeeping survive a flush
	v, err := store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestCanSync(t *testing.T) {
	t.Parallel()

	mem, err := newSqlStore(InmemPath, "", zap.NewNop())
	require.NoError(t, err)
	defer mem.Close()
	require.False(t, mem.CanSync())

	dir := t.TempDir()

	withReplica, err := newSqlStore(InmemPath, filepath.Join(dir, "replica.sqlite"), zap.NewNop())
	require.NoError(t, err)
	defer withReplica.Close()
	require.True(t, withReplica.CanSync())

	file, err := newSqlStore(filepath.Join(dir, DefaultFilename), "", zap.NewNop())
	require.NoError(t, err)
	defer file.Close()
	require.True(t, file.CanSync())
}

func TestSyncSnapshotsReplica(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	replica := filepath.Join(dir, "replica.sqlite")

	primary, err := NewSqlStore(filepath.Join(dir, DefaultFilename), replica, zap.NewNop())
	require.NoError(t, err)
	defer primary.Close()

	err = primary.execTrans(ctx, `INSERT INTO kv (key, value) VALUES ("users:1", '"alice"')`)
	require.NoError(t, err)

	require.NoError(t, primary.Sync(ctx))

	// a second sync overwrites the stale snapshot
	require.NoError(t, primary.Sync(ctx))

	copied, err := NewSqlStore(replica, "", zap.NewNop())
	require.NoError(t, err)
	defer copied.Close()

	keys, err := copied.queryToStrings(`SELECT key FROM kv`)
	require.NoError(t, err)
	require.Equal(t, []string{"users:1"}, keys)
}

func TestSyncCheckpointsWAL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewSqlStore(filepath.Join(t.TempDir(), DefaultFilename), "", zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	err = store.execTrans(ctx, `INSERT INTO kv (key, value) VALUES ("users:1", '"alice"')`)
	require.NoError(t, err)

	require.NoError(t, store.Sync(ctx))
}

func (s *SqlStore) queryToStrings(stmt string, args ...interface{}) ([]string, error) {
	var vals []string
	if err := s.DB.Select(&vals, stmt, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	return vals, nil
}

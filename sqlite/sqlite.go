// Package sqlite bootstraps the backing store: it opens the database,
// applies the schema migrations, and exposes the handful of
// store-level primitives (sync, flush, version) the kv layer consumes.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// InmemPath is the path to create an in-memory database.
	InmemPath = ":memory:"

	// DefaultFilename is the name of the kv database file relative to
	// a data directory.
	DefaultFilename = "kvlite.sqlite"
)

// SqlStore is a wrapper around the database connection. Mu guards
// writes: mutating operations take the write lock, readers the read
// lock, serializing writers above the driver's own file locking.
type SqlStore struct {
	Mu  sync.RWMutex
	DB  *sqlx.DB
	log *zap.Logger

	path        string
	replicaPath string
}

// NewSqlStore opens the database at path and prepares it for use.
// replicaPath, when non-empty, is the destination of Sync snapshots.
func NewSqlStore(path string, replicaPath string, log *zap.Logger) (*SqlStore, error) {
	s, err := newSqlStore(path, replicaPath, log)
	if err != nil {
		return nil, err
	}

	if err := NewMigrator(s, log).Up(context.Background(), Migrations); err != nil {
		s.DB.Close()
		return nil, errors.Wrap(err, "applying kv migrations")
	}

	return s, nil
}

func newSqlStore(path string, replicaPath string, log *zap.Logger) (*SqlStore, error) {
	db, err := sqlx.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "opening kv database")
	}

	// An in-memory database exists per connection, so restrict the
	// pool to a single connection to keep one coherent store.
	if path == InmemPath {
		db.SetMaxOpenConns(1)
	}

	s := &SqlStore{
		DB:          db,
		log:         log,
		path:        path,
		replicaPath: replicaPath,
	}

	// Pragmas must run outside an explicit transaction; journal_mode
	// in particular refuses to change within one.
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling foreign keys")
	}

	if path != InmemPath {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "enabling WAL journaling")
		}
	}

	log.Info("Resources opened", zap.String("path", path))
	return s, nil
}

func dsn(path string) string {
	if path == InmemPath {
		return path
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000", path)
}

// NewTestStore returns a in-memory SqlStore for testing with the full
// schema applied, and closes it when the test finishes.
func NewTestStore(t *testing.T) *SqlStore {
	t.Helper()

	s, err := NewSqlStore(InmemPath, "", zap.NewNop())
	if err != nil {
		t.Fatalf("unable to open testing database: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// Close closes the database connection. Any use of the store after a
// successful Close fails at the driver.
func (s *SqlStore) Close() error {
	return s.DB.Close()
}

// CanSync reports the synchronization capability of this store. An
// in-memory store with no replica target has nothing to synchronize,
// and callers treat Sync as a no-op for it.
func (s *SqlStore) CanSync() bool {
	return s.replicaPath != "" || s.path != InmemPath
}

// Sync flushes the store to durable form. With a replica target
// configured it snapshots the full database there; otherwise it
// checkpoints the WAL into the main database file.
func (s *SqlStore) Sync(ctx context.Context) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.replicaPath != "" {
		// VACUUM INTO refuses to overwrite an existing file.
		if err := os.Remove(s.replicaPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "removing stale replica")
		}
		if _, err := s.DB.ExecContext(ctx, `VACUUM INTO ?`, s.replicaPath); err != nil {
			return errors.Wrap(err, "snapshotting replica")
		}
		s.log.Debug("Replica synchronized", zap.String("replica_path", s.replicaPath))
		return nil
	}

	if _, err := s.DB.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return errors.Wrap(err, "checkpointing WAL")
	}
	return nil
}

// Flush deletes all records from all tables, for testing. The schema
// itself and its version bookkeeping are left in place.
func (s *SqlStore) Flush(ctx context.Context) {
	tables, err := s.tableNames()
	if err != nil {
		s.log.Fatal("unable to flush sqlite", zap.Error(err))
	}

	for _, t := range tables {
		stmt := fmt.Sprintf("DELETE FROM %s", t)
		if err := s.execTrans(ctx, stmt); err != nil {
			s.log.Fatal("unable to flush sqlite", zap.Error(err))
		}
	}
	s.log.Debug("Flushed sqlite")
}

func (s *SqlStore) tableNames() ([]string, error) {
	var names []string
	if err := s.DB.Select(&names, `SELECT name FROM sqlite_master WHERE type='table'`); err != nil {
		return nil, err
	}

	tables := names[:0]
	for _, n := range names {
		if !strings.HasPrefix(n, "sqlite_") {
			tables = append(tables, n)
		}
	}
	return tables, nil
}

// execTrans executes a script within a transaction.
func (s *SqlStore) execTrans(ctx context.Context, stmt string) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// userVersion returns the value of the user_version pragma, the applied
// migration level.
func (s *SqlStore) userVersion() (int, error) {
	var v int
	if err := s.DB.Get(&v, `PRAGMA user_version`); err != nil {
		return 0, err
	}
	return v, nil
}

// setUserVersion records the applied migration level.
func (s *SqlStore) setUserVersion(ctx context.Context, v int) error {
	// PRAGMA does not support parameter binding; v is an integer we
	// computed from a migration filename, never caller input.
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v))
	return err
}

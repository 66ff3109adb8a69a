// Package store implements the kv session over a sqlite backing store.
// A root session is bound to the long-lived connection; Transaction
// creates a nested session bound to an in-flight transaction handle,
// with change events buffered until commit.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kvlite/kvlite"
	"github.com/kvlite/kvlite/codec"
	"github.com/kvlite/kvlite/kit/errors"
	"github.com/kvlite/kvlite/query"
	"github.com/kvlite/kvlite/sqlite"
)

var _ kvlite.Session = (*Service)(nil)

// storedRecord is the row shape scanned from the kv table. The sqlite
// driver hands TEXT columns back as strings, which database/sql will
// not scan into a named byte-slice type, so the value column is read
// as a string here and converted to the API record's raw JSON.
type storedRecord struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r storedRecord) toRecord() kvlite.Record {
	return kvlite.Record{
		Key:       r.Key,
		Value:     json.RawMessage(r.Value),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// execer is the statement surface shared by the connection and a
// transaction handle.
type execer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Service is a kv session. Exactly one of store/tx is set: store for a
// root session, tx for a nested one. A nested session is a distinct
// object created per transaction attempt and is only valid within its
// callback.
type Service struct {
	store *sqlite.SqlStore
	tx    *sqlx.Tx

	log    *zap.Logger
	events *notifier
	clock  clock.Clock

	syncDone chan struct{}
	syncWG   sync.WaitGroup
	stopOnce sync.Once
}

// NewService returns a root session over an already-bootstrapped
// backing store.
func NewService(log *zap.Logger, st *sqlite.SqlStore, listener kvlite.Listener) *Service {
	return &Service{
		store:  st,
		log:    log,
		events: newNotifier(listener),
		clock:  clock.New(),
	}
}

// Open validates cfg, bootstraps the backing store at location, and
// returns a root session. Configuration problems are rejected before
// any connection attempt.
func Open(location string, cfg kvlite.Config, log *zap.Logger) (*Service, error) {
	if location == "" {
		return nil, &errors.Error{
			Code: errors.EConfiguration,
			Msg:  "a database location is required",
		}
	}
	if strings.Contains(location, "://") {
		return nil, &errors.Error{
			Code: errors.EConfiguration,
			Msg:  "remote locations are not supported by the embedded driver",
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AuthToken != "" {
		log.Warn("Auth token is only used for remote locations and was ignored")
	}

	st, err := sqlite.NewSqlStore(location, cfg.EmbeddedReplicaPath, log)
	if err != nil {
		return nil, &errors.Error{
			Code: errors.EKV,
			Msg:  "unable to open backing store",
			Err:  err,
		}
	}

	s := NewService(log, st, cfg.Listener)
	if cfg.SyncInterval > 0 {
		s.startSyncLoop(cfg.SyncInterval)
	}
	return s, nil
}

func (s *Service) handle() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.store.DB
}

// Set writes value under key and returns the stored record as the
// backing store persisted it. A nil value is the delete sentinel: it
// routes to Delete, returns a nil record, and emits only the delete
// event.
func (s *Service) Set(ctx context.Context, key string, value interface{}) (*kvlite.Record, error) {
	if err := query.ValidateKey(key); err != nil {
		return nil, err
	}

	if value == nil {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}

	encoded, err := codec.Encode(value)
	if err != nil {
		return nil, err
	}

	rec, err := s.write(ctx, key, encoded)
	if err != nil {
		return nil, err
	}

	// The store lock is released by the time the listener runs, so a
	// listener may call back into the session.
	if s.events.active() {
		s.events.emit(kvlite.ChangeEvent{Kind: kvlite.EventSet, Record: *rec})
	}
	return rec, nil
}

func (s *Service) write(ctx context.Context, key string, encoded []byte) (*kvlite.Record, error) {
	if s.tx == nil {
		s.store.Mu.Lock()
		defer s.store.Mu.Unlock()
	}

	stmt, args, err := query.Set(key, encoded)
	if err != nil {
		return nil, internalErr("store.Set", err)
	}
	if _, err := s.handle().ExecContext(ctx, stmt, args...); err != nil {
		return nil, kvErr("store.Set", err)
	}

	// Read the row back rather than trusting a RETURNING clause: the
	// sqlite driver cannot scan time values out of one, and the
	// trigger-owned updated_at must come from the store.
	rec, err := s.get(ctx, key)
	if err != nil {
		return nil, kvErr("store.Set", err)
	}
	if rec == nil {
		return nil, &errors.Error{
			Code: errors.EInternal,
			Op:   "store.Set",
			Msg:  "record missing after upsert",
		}
	}
	return rec, nil
}

// Get returns the record under key, or nil when the key is absent.
func (s *Service) Get(ctx context.Context, key string) (*kvlite.Record, error) {
	if err := query.ValidateKey(key); err != nil {
		return nil, err
	}

	if s.tx == nil {
		s.store.Mu.RLock()
		defer s.store.Mu.RUnlock()
	}

	rec, err := s.get(ctx, key)
	if err != nil {
		return nil, kvErr("store.Get", err)
	}
	return rec, nil
}

func (s *Service) get(ctx context.Context, key string) (*kvlite.Record, error) {
	stmt, args, err := query.Get(key)
	if err != nil {
		return nil, err
	}

	var row storedRecord
	if err := s.handle().GetContext(ctx, &row, stmt, args...); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// A row that exists but does not decode is a corruption fault,
	// distinct from a missing key.
	rec := row.toRecord()
	if !codec.Valid(rec.Value) {
		return nil, &errors.Error{
			Code: errors.EKV,
			Msg:  "stored value is not valid JSON",
		}
	}
	return &rec, nil
}

// List returns the page of records whose keys start with prefix plus
// the separator, with the total count of matches computed
// independently of pagination.
func (s *Service) List(ctx context.Context, prefix string, opts *kvlite.ListOptions) (*kvlite.ListResult, error) {
	if opts == nil {
		opts = kvlite.DefaultListOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if s.tx == nil {
		s.store.Mu.RLock()
		defer s.store.Mu.RUnlock()
	}

	stmt, args, err := query.List(prefix, opts)
	if err != nil {
		return nil, err
	}
	rows := []storedRecord{}
	if err := s.handle().SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, kvErr("store.List", err)
	}
	data := make([]kvlite.Record, 0, len(rows))
	for _, r := range rows {
		data = append(data, r.toRecord())
	}

	stmt, args, err = query.Count(prefix, opts)
	if err != nil {
		return nil, err
	}
	var total int
	if err := s.handle().GetContext(ctx, &total, stmt, args...); err != nil {
		return nil, kvErr("store.List", err)
	}

	return &kvlite.ListResult{
		Data: data,
		Meta: kvlite.ListMeta{ListOptions: *opts, Total: total},
	}, nil
}

// Delete removes key. Deleting an absent key succeeds without emitting
// an event. The prior record is fetched first so the event can carry
// the deleted key's timestamps; when no listener is configured the
// fetch is skipped along with event construction.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := query.ValidateKey(key); err != nil {
		return err
	}

	prior, err := s.remove(ctx, key)
	if err != nil {
		return err
	}

	if prior != nil {
		s.events.emit(kvlite.ChangeEvent{
			Kind: kvlite.EventDelete,
			Record: kvlite.Record{
				Key:       prior.Key,
				Value:     nil,
				CreatedAt: prior.CreatedAt,
				UpdatedAt: prior.UpdatedAt,
			},
		})
	}
	return nil
}

// remove deletes key under the store lock and returns the prior record
// when the event payload will need it.
func (s *Service) remove(ctx context.Context, key string) (*kvlite.Record, error) {
	if s.tx == nil {
		s.store.Mu.Lock()
		defer s.store.Mu.Unlock()
	}

	var prior *kvlite.Record
	if s.events.active() {
		var err error
		if prior, err = s.get(ctx, key); err != nil {
			return nil, kvErr("store.Delete", err)
		}
	}

	stmt, args, err := query.Delete(key)
	if err != nil {
		return nil, internalErr("store.Delete", err)
	}
	if _, err := s.handle().ExecContext(ctx, stmt, args...); err != nil {
		return nil, kvErr("store.Delete", err)
	}
	return prior, nil
}

// DeleteAll removes every record whose key starts with prefix plus the
// separator; an empty prefix removes every record. No events fire.
func (s *Service) DeleteAll(ctx context.Context, prefix string) error {
	if s.tx == nil {
		s.store.Mu.Lock()
		defer s.store.Mu.Unlock()
	}

	stmt, args, err := query.DeleteAll(prefix)
	if err != nil {
		return internalErr("store.DeleteAll", err)
	}
	if _, err := s.handle().ExecContext(ctx, stmt, args...); err != nil {
		return kvErr("store.DeleteAll", err)
	}
	return nil
}

// Transaction runs fn against a nested session bound to a fresh
// backing transaction. On success the transaction commits and buffered
// events replay in emission order; on failure everything rolls back,
// the buffer is discarded, and the cause comes back wrapped as a kv
// error. Calling Transaction on a nested session fails without
// touching the backing store.
func (s *Service) Transaction(ctx context.Context, fn func(kvlite.Session) error) error {
	if s.tx != nil {
		return &errors.Error{
			Code: errors.EKV,
			Msg:  "nested transactions not supported",
		}
	}

	nested, err := s.runTransaction(ctx, fn)
	if err != nil {
		return err
	}

	// Replay to the original listener only after the commit is
	// durable and the store lock is released; a listener may call
	// back into the session. A failing listener is a post-commit
	// fault for the caller; the commit is not undone.
	nested.events.flush()
	return nil
}

func (s *Service) runTransaction(ctx context.Context, fn func(kvlite.Session) error) (*Service, error) {
	s.store.Mu.Lock()
	defer s.store.Mu.Unlock()

	tx, err := s.store.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, kvErr("store.Transaction", err)
	}
	// The handle is released on every path; rolling back after a
	// commit is a no-op.
	defer tx.Rollback()

	nested := &Service{
		tx:     tx,
		log:    s.log,
		events: newBufferedNotifier(s.events.listener),
		clock:  s.clock,
	}

	if err := fn(nested); err != nil {
		nested.events.discard()
		if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			err = multierror.Append(err, rbErr)
		}
		return nil, &errors.Error{
			Code: errors.EKV,
			Op:   "store.Transaction",
			Msg:  "transaction rolled back",
			Err:  err,
		}
	}

	if err := tx.Commit(); err != nil {
		nested.events.discard()
		return nil, kvErr("store.Transaction", err)
	}

	return nested, nil
}

// IsTransaction reports whether this session is nested inside a
// transaction.
func (s *Service) IsTransaction() bool {
	return s.tx != nil
}

// Sync delegates to the backing store's synchronization primitive. A
// store without the capability, and any nested session, treats this as
// a no-op.
func (s *Service) Sync(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	if !s.store.CanSync() {
		return nil
	}
	if err := s.store.Sync(ctx); err != nil {
		return kvErr("store.Sync", err)
	}
	return nil
}

// Close stops the background sync loop and closes the backing
// connection. Any operation after a successful Close fails at the
// driver and surfaces as a kv error.
func (s *Service) Close() error {
	if s.tx != nil {
		return &errors.Error{
			Code: errors.EKV,
			Msg:  "a transaction session cannot be closed",
		}
	}

	s.stopOnce.Do(func() {
		if s.syncDone != nil {
			close(s.syncDone)
			s.syncWG.Wait()
		}
	})

	if err := s.store.Close(); err != nil {
		return kvErr("store.Close", err)
	}
	return nil
}

func (s *Service) startSyncLoop(interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	s.syncDone = make(chan struct{})
	s.syncWG.Add(1)

	go func() {
		defer s.syncWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Sync(context.Background()); err != nil {
					s.log.Warn("Background sync failed", zap.Error(err))
				}
			case <-s.syncDone:
				return
			}
		}
	}()
}

// kvErr wraps a backing-store failure so callers have a single error
// code to branch on regardless of the underlying cause.
func kvErr(op string, err error) error {
	var kerr *errors.Error
	if stderrors.As(err, &kerr) && kerr.Code == errors.EKV {
		return err
	}
	return &errors.Error{
		Code: errors.EKV,
		Op:   op,
		Err:  err,
	}
}

func internalErr(op string, err error) error {
	return &errors.Error{
		Code: errors.EInternal,
		Op:   op,
		Err:  err,
	}
}

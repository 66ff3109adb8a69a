// Package kvlite is a key-value layer over a relational backing store.
// Keys are strings segmented by ":"; values are opaque JSON blobs. The
// store supports prefix listing with pagination, change notifications,
// and single-level transactions.
package kvlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kvlite/kvlite/codec"
	"github.com/kvlite/kvlite/kit/errors"
)

// Separator splits a key into hierarchical segments. A prefix scan
// matches every key beginning with the prefix followed by Separator.
const Separator = ":"

// DefaultLimit is applied to a list when the caller does not supply
// options.
const DefaultLimit = 100

// Record is a single stored key-value pair. Value holds the encoded
// JSON payload as written; CreatedAt is set once on first insert and
// UpdatedAt is refreshed by the backing store on every write.
type Record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Decode deserializes the record's stored payload into out. Delete
// events carry a nil Value, which does not decode.
func (r *Record) Decode(out interface{}) error {
	return codec.Decode(r.Value, out)
}

// Column is a kv table column that list results may be ordered by.
type Column string

const (
	ColumnKey       Column = "key"
	ColumnValue     Column = "value"
	ColumnCreatedAt Column = "created_at"
	ColumnUpdatedAt Column = "updated_at"
)

// Valid reports whether c is one of the four orderable columns.
func (c Column) Valid() bool {
	switch c {
	case ColumnKey, ColumnValue, ColumnCreatedAt, ColumnUpdatedAt:
		return true
	}
	return false
}

// ListOptions controls pagination and ordering of a prefix scan.
type ListOptions struct {
	// Limit caps the number of returned records. A literal zero is
	// honored: the data set is empty but Total is still computed.
	Limit int `json:"limit"`
	// Offset skips that many records of the ordered result.
	Offset int `json:"offset"`
	// Reverse flips the ordering, tie-breaker included.
	Reverse bool `json:"reverse"`
	// OrderBy is the primary sort column, ColumnKey when empty. When
	// it is not ColumnKey, key is appended as a same-direction
	// tie-breaker so equal values order deterministically.
	OrderBy Column `json:"orderBy"`
	// IncludeExactMatch additionally matches the record whose key
	// equals the caller's literal prefix, without a trailing
	// separator appended.
	IncludeExactMatch bool `json:"includeExactMatch"`
}

// DefaultListOptions returns the options applied when a caller passes
// nil to List.
func DefaultListOptions() *ListOptions {
	return &ListOptions{Limit: DefaultLimit, OrderBy: ColumnKey}
}

// Validate fails fast on options that must never reach the backing
// store.
func (o ListOptions) Validate() error {
	if o.OrderBy != "" && !o.OrderBy.Valid() {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "order by column must be one of key, value, created_at, updated_at",
		}
	}
	if o.Limit < 0 {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "list limit must not be negative",
		}
	}
	if o.Offset < 0 {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "list offset must not be negative",
		}
	}
	return nil
}

// ListMeta echoes the options a list was executed with plus the total
// number of matching records irrespective of Limit and Offset.
type ListMeta struct {
	ListOptions
	Total int `json:"total"`
}

// ListResult is an ordered page of records with its pagination
// metadata.
type ListResult struct {
	Data []Record `json:"data"`
	Meta ListMeta `json:"meta"`
}

// EventKind discriminates change events.
type EventKind string

const (
	// EventSet is emitted after a value is written.
	EventSet EventKind = "set"
	// EventDelete is emitted after an existing key is removed. The
	// event record carries the deleted key with a nil Value.
	EventDelete EventKind = "delete"
)

// ChangeEvent describes one committed mutation. Set and Delete produce
// exactly one event each; Get and List never do.
type ChangeEvent struct {
	Kind   EventKind `json:"kind"`
	Record Record    `json:"record"`
}

// Listener receives change events. Outside a transaction it is invoked
// inline before the mutating operation returns; inside one, buffered
// events are replayed in emission order after a successful commit. The
// listener runs with no internal locks held and may call back into the
// session.
type Listener func(ChangeEvent)

// Config carries the explicit configuration for Open. The library
// reads no ambient environment.
type Config struct {
	// AuthToken authenticates against a remote backing store. Only
	// meaningful for remote locations, which the embedded driver
	// rejects.
	AuthToken string
	// EmbeddedReplicaPath points the sync primitive at a local
	// replica file.
	EmbeddedReplicaPath string
	// SyncInterval, when positive, runs Sync on a background ticker.
	// Negative values are a configuration error.
	SyncInterval time.Duration
	// Listener, when set, receives one ChangeEvent per write. When
	// nil no event is constructed at all.
	Listener Listener
}

// Validate rejects configuration that must fail before any connection
// attempt.
func (c Config) Validate() error {
	if c.SyncInterval < 0 {
		return &errors.Error{
			Code: errors.EConfiguration,
			Msg:  "sync interval must be a positive duration",
		}
	}
	return nil
}

// Session is the public contract of a kv session. A session is either
// root, bound to a long-lived connection, or nested, bound to an
// in-flight transaction handle; nested sessions are only valid within
// the Transaction callback that created them.
type Session interface {
	// Set writes value under key and returns the stored record. A
	// nil value routes to Delete and returns a nil record; only a
	// delete event fires in that case.
	Set(ctx context.Context, key string, value interface{}) (*Record, error)

	// Get returns the record stored under key, or nil when the key
	// is absent. Absence is not an error.
	Get(ctx context.Context, key string) (*Record, error)

	// List returns the records whose keys start with prefix followed
	// by the separator, ordered and paginated per opts. A nil opts
	// applies the defaults.
	List(ctx context.Context, prefix string, opts *ListOptions) (*ListResult, error)

	// Delete removes key. Deleting an absent key is a no-op success
	// and emits no event.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every record whose key starts with prefix
	// followed by the separator. An empty prefix removes every
	// record. Destructive and unconfirmed by construction.
	DeleteAll(ctx context.Context, prefix string) error

	// Transaction runs fn against a nested session. fn returning an
	// error rolls everything back and discards buffered events;
	// success commits and replays them. Nesting is not supported.
	Transaction(ctx context.Context, fn func(Session) error) error

	// Sync delegates to the backing store's synchronization
	// primitive when the capability is present, and is a no-op
	// otherwise.
	Sync(ctx context.Context) error

	// IsTransaction reports whether the session is nested.
	IsTransaction() bool

	// Close releases the backing connection. Operations after Close
	// fail.
	Close() error
}

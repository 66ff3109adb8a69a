// Package query builds the SQL statements for the kv table. Every
// statement is produced with placeholder binding; caller-supplied keys
// and prefixes are never interpolated into SQL text.
package query

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/kvlite/kvlite"
	"github.com/kvlite/kvlite/kit/errors"
)

// Table is the backing table for all kv records.
const Table = "kv"

// recordColumns is the stable column set of a record row.
var recordColumns = []string{"key", "value", "created_at", "updated_at"}

// Get builds the exact-key single-row lookup.
func Get(key string) (string, []interface{}, error) {
	return sq.Select(recordColumns...).
		From(Table).
		Where(sq.Eq{"key": key}).
		ToSql()
}

// Set builds the upsert for key. On conflict only the value column is
// overwritten; created_at is untouched and updated_at is refreshed by
// the schema trigger, not computed here.
func Set(key string, value []byte) (string, []interface{}, error) {
	return sq.Insert(Table).
		Columns("key", "value").
		Values(key, string(value)).
		Suffix(`ON CONFLICT(key) DO UPDATE SET value = excluded.value`).
		ToSql()
}

// Delete builds the unconditional delete for key. Deleting an absent
// key affects zero rows and is a no-op success; the session pairs this
// with a prior Get when it needs the old record for an event payload.
func Delete(key string) (string, []interface{}, error) {
	return sq.Delete(Table).
		Where(sq.Eq{"key": key}).
		ToSql()
}

// DeleteAll builds the bulk delete of every key starting with
// prefix + separator. An empty prefix deletes every record.
func DeleteAll(prefix string) (string, []interface{}, error) {
	b := sq.Delete(Table)
	if prefix != "" {
		b = b.Where(prefixMatch(ScanPrefix(prefix)))
	}
	return b.ToSql()
}

// List builds the paginated data query for a prefix scan. Count builds
// the companion total query; both share the same predicate.
func List(prefix string, opts *kvlite.ListOptions) (string, []interface{}, error) {
	if opts == nil {
		opts = kvlite.DefaultListOptions()
	}
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}

	// LIMIT and OFFSET are bound like every other caller-influenced
	// value rather than rendered into the statement text.
	b := sq.Select(recordColumns...).
		From(Table).
		Where(predicate(prefix, opts)).
		OrderBy(orderings(opts)...).
		Suffix(`LIMIT ?`, opts.Limit)

	if opts.Offset > 0 {
		b = b.Suffix(`OFFSET ?`, opts.Offset)
	}

	return b.ToSql()
}

// Count builds the option-independent total query for the same
// predicate as List, without limit or offset.
func Count(prefix string, opts *kvlite.ListOptions) (string, []interface{}, error) {
	if opts == nil {
		opts = kvlite.DefaultListOptions()
	}
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}

	return sq.Select("COUNT(*)").
		From(Table).
		Where(predicate(prefix, opts)).
		ToSql()
}

// ScanPrefix normalizes a caller prefix for scanning: a non-empty
// prefix that does not already end in the separator gets one appended.
func ScanPrefix(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, kvlite.Separator) {
		return prefix + kvlite.Separator
	}
	return prefix
}

// predicate matches keys starting with the normalized scan prefix and,
// when requested, the key equal to the caller's literal prefix. The
// exact-match clause deliberately uses the unmodified prefix argument.
func predicate(prefix string, opts *kvlite.ListOptions) sq.Sqlizer {
	match := prefixMatch(ScanPrefix(prefix))
	if opts.IncludeExactMatch {
		return sq.Or{match, sq.Eq{"key": prefix}}
	}
	return match
}

// prefixMatch is the starts-with predicate. LIKE metacharacters in the
// bound prefix are escaped so arbitrary caller input only ever matches
// literally.
func prefixMatch(scanPrefix string) sq.Sqlizer {
	return sq.Expr(`key LIKE ? ESCAPE '\'`, escapeLike(scanPrefix)+"%")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// orderings renders the ORDER BY columns. Column names come from the
// validated allow-list, never from raw caller input. When the primary
// column is not key, key is appended in the same direction so records
// with equal values order deterministically, and reversal reverses the
// tie-breaker as well.
func orderings(opts *kvlite.ListOptions) []string {
	col := opts.OrderBy
	if col == "" {
		col = kvlite.ColumnKey
	}

	dir := "ASC"
	if opts.Reverse {
		dir = "DESC"
	}

	order := []string{fmt.Sprintf("%s %s", col, dir)}
	if col != kvlite.ColumnKey {
		order = append(order, fmt.Sprintf("%s %s", kvlite.ColumnKey, dir))
	}
	return order
}

// ValidateKey rejects the empty key before any statement is built.
func ValidateKey(key string) error {
	if key == "" {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "key must not be empty",
		}
	}
	return nil
}

// Package datasource abstracts read-only access to the queried database.
// Two variants exist: SQLite and PostgreSQL. All access is bounded: preview
// queries are wrapped with an outer LIMIT, counts are capped, and streams
// carry a per-chunk timeout.
package datasource

import (
	"context"
	"time"
)

// CountUnknown is the sentinel returned when a result set exceeds the
// smart-count cap. It is a distinct value, not null.
const CountUnknown = -1

// Adapter is the capability set every database variant implements.
type Adapter interface {
	// Dialect returns "sqlite" or "postgres".
	Dialect() string

	// Introspect returns live tables and their columns. Used once at
	// startup for the schema drift check.
	Introspect(ctx context.Context) (*Introspection, error)

	// Count runs a capped COUNT over the query. Returns the exact count
	// when it is <= cap, or CountUnknown when the result set is larger.
	Count(ctx context.Context, sqlQuery string, cap int) (int, error)

	// ExecutePreview runs the query wrapped with an outer LIMIT and
	// returns at most limit rows.
	ExecutePreview(ctx context.Context, sqlQuery string, limit int) (*PreviewResult, error)

	// ExecuteStream runs the query without a limit and returns a lazy
	// row iterator for CSV download. The iterator is not restartable.
	ExecuteStream(ctx context.Context, sqlQuery string) (RowIterator, error)

	// Close releases the connection pool.
	Close()
}

// Introspection holds the live database structure for the drift check.
type Introspection struct {
	// Columns maps table name to its set of column names.
	Columns map[string]map[string]bool
}

// HasTable reports whether the live database contains the table.
func (i *Introspection) HasTable(table string) bool {
	_, ok := i.Columns[table]
	return ok
}

// HasColumn reports whether the live database contains the column.
func (i *Introspection) HasColumn(table, column string) bool {
	cols, ok := i.Columns[table]
	return ok && cols[column]
}

// PreviewResult holds a bounded result set. Rows are positional, ordered
// to match Columns.
type PreviewResult struct {
	Columns []string
	Rows    [][]any
}

// RowIterator yields rows lazily. Next returns io.EOF after the last row.
type RowIterator interface {
	Columns() []string
	Next() ([]any, error)
	Close() error
}

// Config holds adapter construction settings shared by both variants.
type Config struct {
	// URL is the connection string (postgres://... or a SQLite file path).
	URL string

	// MaxConnections sizes the pool. Defaults to 5.
	MaxConnections int32

	// QueryTimeout bounds a single preview or count query, and each
	// chunk read of a stream. Defaults to 30s. A request can carry a
	// longer bound via WithQueryTimeout.
	QueryTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConnections <= 0 {
		out.MaxConnections = 5
	}
	if out.QueryTimeout <= 0 {
		out.QueryTimeout = 30 * time.Second
	}
	return out
}

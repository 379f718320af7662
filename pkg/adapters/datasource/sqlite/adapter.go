// Package sqlite implements the datasource adapter over a SQLite file,
// using the cgo-free modernc driver. Connections are opened in read-only,
// query-only mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register("sqlite", func(ctx context.Context, cfg datasource.Config) (datasource.Adapter, error) {
		return Open(ctx, cfg)
	})
}

// Adapter provides read-only SQLite access.
type Adapter struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens the SQLite file in read-only mode and verifies connectivity.
func Open(ctx context.Context, cfg datasource.Config) (*Adapter, error) {
	db, err := sql.Open("sqlite", buildDSN(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(int(cfg.MaxConnections))
	db.SetMaxIdleConns(int(cfg.MaxConnections))

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, datasource.ClassifyError(err)
	}

	return &Adapter{db: db, timeout: cfg.QueryTimeout}, nil
}

// buildDSN normalizes a plain path into a read-only file DSN. DSNs that
// already carry options are left untouched.
func buildDSN(url string) string {
	if strings.Contains(url, "?") {
		return url
	}
	if !strings.HasPrefix(url, "file:") {
		url = "file:" + url
	}
	return url + "?mode=ro&_pragma=query_only(1)"
}

// Dialect implements datasource.Adapter.
func (a *Adapter) Dialect() string {
	return "sqlite"
}

// Introspect lists user tables and their columns from sqlite_master.
func (a *Adapter) Introspect(ctx context.Context) (*datasource.Introspection, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rows, err := a.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, datasource.ClassifyError(err)
	}
	defer rows.Close()

	intro := &datasource.Introspection{Columns: make(map[string]map[string]bool)}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, datasource.ClassifyError(err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, datasource.ClassifyError(err)
	}

	for _, table := range tables {
		cols, err := a.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		intro.Columns[table] = cols
	}

	return intro, nil
}

func (a *Adapter) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, datasource.ClassifyError(err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, datasource.ClassifyError(err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Count implements the smart count: exact up to cap, CountUnknown beyond.
func (a *Adapter) Count(ctx context.Context, sqlQuery string, cap int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, datasource.QueryTimeoutFrom(ctx, a.timeout))
	defer cancel()

	var counted int
	if err := a.db.QueryRowContext(ctx, datasource.WrapCount(sqlQuery, cap)).Scan(&counted); err != nil {
		return 0, datasource.ClassifyError(err)
	}
	return datasource.SmartCountResult(counted, cap), nil
}

// ExecutePreview implements datasource.Adapter.
func (a *Adapter) ExecutePreview(ctx context.Context, sqlQuery string, limit int) (*datasource.PreviewResult, error) {
	ctx, cancel := context.WithTimeout(ctx, datasource.QueryTimeoutFrom(ctx, a.timeout))
	defer cancel()

	rows, err := a.db.QueryContext(ctx, datasource.WrapLimit(sqlQuery, limit))
	if err != nil {
		return nil, datasource.ClassifyError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, datasource.ClassifyError(err)
	}

	result := &datasource.PreviewResult{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		row, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, datasource.ClassifyError(err)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, datasource.ClassifyError(err)
	}

	return result, nil
}

// ExecuteStream implements datasource.Adapter. The per-chunk timeout cancels
// the query if a single row read stalls.
func (a *Adapter) ExecuteStream(ctx context.Context, sqlQuery string) (datasource.RowIterator, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	rows, err := a.db.QueryContext(streamCtx, sqlQuery)
	if err != nil {
		cancel()
		return nil, datasource.ClassifyError(err)
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, datasource.ClassifyError(err)
	}

	inner := &rowIterator{rows: rows, columns: columns}
	return datasource.NewChunkTimeoutIterator(inner, cancel, datasource.QueryTimeoutFrom(ctx, a.timeout)), nil
}

// Close implements datasource.Adapter.
func (a *Adapter) Close() {
	_ = a.db.Close()
}

type rowIterator struct {
	rows    *sql.Rows
	columns []string
}

func (it *rowIterator) Columns() []string {
	return it.columns
}

func (it *rowIterator) Next() ([]any, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, datasource.ClassifyError(err)
		}
		return nil, io.EOF
	}
	return scanRow(it.rows, len(it.columns))
}

func (it *rowIterator) Close() error {
	return it.rows.Close()
}

// scanRow reads one row into positional values, normalizing []byte to string
// so results are JSON- and CSV-friendly.
func scanRow(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

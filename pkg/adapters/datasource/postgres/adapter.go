// Package postgres implements the datasource adapter over PostgreSQL using
// a pgx connection pool. Every session is forced read-only.
package postgres

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/retry"
)

func init() {
	datasource.Register("postgres", func(ctx context.Context, cfg datasource.Config) (datasource.Adapter, error) {
		return Open(ctx, cfg)
	})
}

// Adapter provides read-only PostgreSQL access over a shared pool.
type Adapter struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// Open builds the pool, forces read-only transactions on every connection,
// and verifies connectivity.
func Open(ctx context.Context, cfg datasource.Config) (*Adapter, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConnections
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET default_transaction_read_only = on")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, datasource.ClassifyError(err)
	}

	// The database may still be coming up when the engine boots.
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, datasource.ClassifyError(err)
	}

	return &Adapter{pool: pool, timeout: cfg.QueryTimeout}, nil
}

// Dialect implements datasource.Adapter.
func (a *Adapter) Dialect() string {
	return "postgres"
}

// Introspect lists user tables and columns from the catalog. System schemas
// are excluded.
func (a *Adapter) Introspect(ctx context.Context) (*datasource.Introspection, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rows, err := a.pool.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, datasource.ClassifyError(err)
	}
	defer rows.Close()

	intro := &datasource.Introspection{Columns: make(map[string]map[string]bool)}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, datasource.ClassifyError(err)
		}
		if intro.Columns[table] == nil {
			intro.Columns[table] = make(map[string]bool)
		}
		intro.Columns[table][column] = true
	}
	if err := rows.Err(); err != nil {
		return nil, datasource.ClassifyError(err)
	}

	return intro, nil
}

// Count implements the smart count: exact up to cap, CountUnknown beyond.
func (a *Adapter) Count(ctx context.Context, sqlQuery string, cap int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, datasource.QueryTimeoutFrom(ctx, a.timeout))
	defer cancel()

	var counted int
	if err := a.pool.QueryRow(ctx, datasource.WrapCount(sqlQuery, cap)).Scan(&counted); err != nil {
		return 0, datasource.ClassifyError(err)
	}
	return datasource.SmartCountResult(counted, cap), nil
}

// ExecutePreview implements datasource.Adapter.
func (a *Adapter) ExecutePreview(ctx context.Context, sqlQuery string, limit int) (*datasource.PreviewResult, error) {
	ctx, cancel := context.WithTimeout(ctx, datasource.QueryTimeoutFrom(ctx, a.timeout))
	defer cancel()

	rows, err := a.pool.Query(ctx, datasource.WrapLimit(sqlQuery, limit))
	if err != nil {
		return nil, datasource.ClassifyError(err)
	}
	defer rows.Close()

	columns := fieldNames(rows)
	result := &datasource.PreviewResult{Columns: columns, Rows: make([][]any, 0)}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, datasource.ClassifyError(err)
		}
		result.Rows = append(result.Rows, values)
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

	rows, err := a.pool.Query(streamCtx, sqlQuery)
	if err != nil {
		cancel()
		return nil, datasource.ClassifyError(err)
	}

	inner := &rowIterator{rows: rows, columns: fieldNames(rows)}
	return datasource.NewChunkTimeoutIterator(inner, cancel, datasource.QueryTimeoutFrom(ctx, a.timeout)), nil
}

// Close implements datasource.Adapter.
func (a *Adapter) Close() {
	a.pool.Close()
}

func fieldNames(rows pgx.Rows) []string {
	descs := rows.FieldDescriptions()
	columns := make([]string, len(descs))
	for i, fd := range descs {
		columns[i] = string(fd.Name)
	}
	return columns
}

type rowIterator struct {
	rows    pgx.Rows
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
	values, err := it.rows.Values()
	if err != nil {
		return nil, datasource.ClassifyError(err)
	}
	return values, nil
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	return nil
}

// Package sqlcache persists the mapping from a normalized natural-language
// query to its last-known-good SQL. One SQLite file per schema namespace;
// SQLite's locking gives exclusive writes and shared reads across processes.
package sqlcache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
)

// Entry is one cached translation.
type Entry struct {
	NormalizedQuery string
	GeneratedSQL    string
	CreatedAt       time.Time
	LastUsedAt      time.Time
	HitCount        int
}

// Cache is the persistent SQL cache.
type Cache struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the cache file.
func Open(path string, logger *zap.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sql cache: %v", apperrors.ErrCacheIO, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sql_cache (
			normalized_query TEXT PRIMARY KEY,
			generated_sql    TEXT NOT NULL,
			created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			hit_count        INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init sql cache: %v", apperrors.ErrCacheIO, err)
	}

	return &Cache{db: db, logger: logger.Named("sqlcache")}, nil
}

// Normalize produces the cache key: the rewritten standalone query,
// lowercased with whitespace collapsed.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get looks up a normalized query. A hit atomically bumps hit_count and
// last_used_at. Returns (entry, true) on hit, (zero, false) on miss.
func (c *Cache) Get(ctx context.Context, normalizedQuery string) (Entry, bool, error) {
	var e Entry
	err := c.db.QueryRowContext(ctx, `
		UPDATE sql_cache
		SET hit_count = hit_count + 1, last_used_at = CURRENT_TIMESTAMP
		WHERE normalized_query = ?
		RETURNING normalized_query, generated_sql, created_at, last_used_at, hit_count`,
		normalizedQuery).Scan(&e.NormalizedQuery, &e.GeneratedSQL, &e.CreatedAt, &e.LastUsedAt, &e.HitCount)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: cache get: %v", apperrors.ErrCacheIO, err)
	}
	return e, true, nil
}

// Put upserts a translation. Identical SQL on conflict only refreshes
// last_used_at; different SQL overwrites and resets the hit count.
func (c *Cache) Put(ctx context.Context, normalizedQuery, generatedSQL string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sql_cache (normalized_query, generated_sql)
		VALUES (?, ?)
		ON CONFLICT (normalized_query) DO UPDATE SET
			generated_sql = excluded.generated_sql,
			last_used_at  = CURRENT_TIMESTAMP,
			hit_count     = CASE
				WHEN sql_cache.generated_sql = excluded.generated_sql THEN sql_cache.hit_count
				ELSE 0
			END,
			created_at = CASE
				WHEN sql_cache.generated_sql = excluded.generated_sql THEN sql_cache.created_at
				ELSE CURRENT_TIMESTAMP
			END`,
		normalizedQuery, generatedSQL)
	if err != nil {
		return fmt.Errorf("%w: cache put: %v", apperrors.ErrCacheIO, err)
	}
	return nil
}

// Invalidate deletes the entry for a normalized query. Called by the
// thumbs-down feedback endpoint.
func (c *Cache) Invalidate(ctx context.Context, normalizedQuery string) error {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM sql_cache WHERE normalized_query = ?`, normalizedQuery)
	if err != nil {
		return fmt.Errorf("%w: cache invalidate: %v", apperrors.ErrCacheIO, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		c.logger.Info("invalidated cached SQL", zap.String("normalized_query", normalizedQuery))
	}
	return nil
}

// Size returns the number of cached entries, for the health endpoint.
func (c *Cache) Size(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sql_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: cache size: %v", apperrors.ErrCacheIO, err)
	}
	return n, nil
}

// Close releases the cache file.
func (c *Cache) Close() error {
	return c.db.Close()
}

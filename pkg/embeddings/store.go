// Package embeddings persists table-description vectors in a SQLite file,
// keyed by (namespace, table_name), and serves cosine-similarity lookups.
// Writes happen once per table at ingestion or drift-forced rebuild; reads
// happen on every pipeline run.
package embeddings

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

// queryCacheSize bounds the in-memory LRU of query-text embeddings.
const queryCacheSize = 256

// Store is the persistent embedding store. Safe for concurrent use:
// SQLite serializes writers, and the LRU is internally locked.
type Store struct {
	db         *sql.DB
	queryCache *lru.Cache[string, []float32]
	logger     *zap.Logger
}

// Match is one scored table from a similarity lookup.
type Match struct {
	Table string
	Score float64
}

// Open opens (or creates) the embedding store file.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: open embedding store: %v", apperrors.ErrCacheIO, err)
	}

	// Single writer; shared readers get their own connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			namespace  TEXT NOT NULL,
			table_name TEXT NOT NULL,
			dim        INTEGER NOT NULL,
			vector     BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, table_name)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init embedding store: %v", apperrors.ErrCacheIO, err)
	}

	queryCache, err := lru.New[string, []float32](queryCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:         db,
		queryCache: queryCache,
		logger:     logger.Named("embeddings"),
	}, nil
}

// Put upserts one table vector.
func (s *Store) Put(ctx context.Context, namespace, table string, vector []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (namespace, table_name, dim, vector, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (namespace, table_name)
		DO UPDATE SET dim = excluded.dim, vector = excluded.vector, updated_at = CURRENT_TIMESTAMP`,
		namespace, table, len(vector), encodeVector(vector))
	if err != nil {
		return fmt.Errorf("%w: put embedding %s/%s: %v", apperrors.ErrCacheIO, namespace, table, err)
	}
	return nil
}

// Get returns the stored vector for one table, or nil when absent.
func (s *Store) Get(ctx context.Context, namespace, table string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE namespace = ? AND table_name = ?`,
		namespace, table).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get embedding: %v", apperrors.ErrCacheIO, err)
	}
	return decodeVector(blob), nil
}

// Count returns the number of stored vectors in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE namespace = ?`, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count embeddings: %v", apperrors.ErrCacheIO, err)
	}
	return n, nil
}

// Dim returns the dimension of the stored vectors in a namespace, or 0 when
// the namespace is empty. All rows share one dimension after a rebuild.
func (s *Store) Dim(ctx context.Context, namespace string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx,
		`SELECT dim FROM embeddings WHERE namespace = ? LIMIT 1`, namespace).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: embedding dim: %v", apperrors.ErrCacheIO, err)
	}
	return dim, nil
}

// TopK scores the query vector against every table in the namespace and
// returns up to k matches with score >= threshold, ranked descending.
// Ties break on table name so output is deterministic. Returns
// apperrors.ErrSchemaEmpty when the namespace has no vectors at all.
func (s *Store) TopK(ctx context.Context, namespace string, query []float32, k int, threshold float64) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, vector FROM embeddings WHERE namespace = ? ORDER BY table_name`,
		namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: scan embeddings: %v", apperrors.ErrCacheIO, err)
	}
	defer rows.Close()

	var all []Match
	for rows.Next() {
		var table string
		var blob []byte
		if err := rows.Scan(&table, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan embedding row: %v", apperrors.ErrCacheIO, err)
		}
		all = append(all, Match{Table: table, Score: Cosine(query, decodeVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate embeddings: %v", apperrors.ErrCacheIO, err)
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("%w: namespace %q", apperrors.ErrSchemaEmpty, namespace)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Table < all[j].Table
	})

	matches := make([]Match, 0, k)
	for _, m := range all {
		if len(matches) == k {
			break
		}
		if m.Score >= threshold {
			matches = append(matches, m)
		}
	}

	// Fall back to the single best match when nothing clears the threshold.
	if len(matches) == 0 {
		matches = append(matches, all[0])
	}

	return matches, nil
}

// QueryEmbedding embeds free text through the client, memoizing results in
// the LRU so repeated questions skip the embedding call.
func (s *Store) QueryEmbedding(ctx context.Context, client llm.Client, text string) ([]float32, error) {
	if vec, ok := s.queryCache.Get(text); ok {
		return vec, nil
	}

	vec, err := client.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	s.queryCache.Add(text, vec)
	return vec, nil
}

// Rebuild re-embeds every table of the canonical schema into its namespace,
// dropping vectors for tables no longer in the schema. Used at ingestion and
// when the store is empty or dimensions drifted.
func (s *Store) Rebuild(ctx context.Context, canonical *schema.Schema, client llm.Client) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE namespace = ?`, canonical.SchemaID); err != nil {
		return fmt.Errorf("%w: clear embeddings: %v", apperrors.ErrCacheIO, err)
	}

	for _, name := range canonical.Tables.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := canonical.Tables.Get(name)
		vec, err := client.CreateEmbedding(ctx, embeddingText(t))
		if err != nil {
			return fmt.Errorf("%w: embed table %s: %v", apperrors.ErrSchemaEmbed, name, err)
		}
		if err := s.Put(ctx, canonical.SchemaID, name, vec); err != nil {
			return err
		}
	}

	s.logger.Info("embedding store rebuilt",
		zap.String("namespace", canonical.SchemaID),
		zap.Int("tables", canonical.Tables.Len()))
	return nil
}

// Close releases the store file.
func (s *Store) Close() error {
	return s.db.Close()
}

// embeddingText renders the table description the embedding is computed
// over: name, description, and column names with their descriptions.
func embeddingText(t *schema.Table) string {
	var b strings.Builder
	b.WriteString(t.Name)
	if t.Description != "" {
		b.WriteString(": ")
		b.WriteString(t.Description)
	}
	b.WriteString(". Columns: ")
	for i, colName := range t.Columns.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		c := t.Columns.Get(colName)
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(" (")
			b.WriteString(c.Description)
			b.WriteString(")")
		}
	}
	return b.String()
}

// Cosine returns the cosine similarity of two vectors. Mismatched or zero
// vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

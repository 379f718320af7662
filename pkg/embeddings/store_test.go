package embeddings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

const rebuildSchemaJSON = `{
	"schema_id": "testdb",
	"source_type": "database",
	"database_type": "sqlite",
	"suggested_queries": ["Show all servers"],
	"tables": {
		"servers": {
			"name": "servers",
			"description": "Fleet inventory",
			"columns": {
				"id": {"name": "id", "data_type": "INTEGER", "description": "pk", "is_primary_key": true}
			}
		}
	}
}`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "embeddings.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	vec := []float32{0.1, -0.5, 0.25, 1.0}
	require.NoError(t, store.Put(ctx, "ns", "servers", vec))

	got, err := store.Get(ctx, "ns", "servers")
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	// Upsert replaces
	vec2 := []float32{1, 2, 3}
	require.NoError(t, store.Put(ctx, "ns", "servers", vec2))
	got, err = store.Get(ctx, "ns", "servers")
	require.NoError(t, err)
	assert.Equal(t, vec2, got)
}

func TestGet_Missing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "ns", "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTopK_RankingAndThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ns", "servers", []float32{1, 0}))
	require.NoError(t, store.Put(ctx, "ns", "datacenters", []float32{0.7, 0.7}))
	require.NoError(t, store.Put(ctx, "ns", "unrelated", []float32{-1, 0}))

	matches, err := store.TopK(ctx, "ns", []float32{1, 0}, 5, 0.15)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "servers", matches[0].Table)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "datacenters", matches[1].Table)
}

func TestTopK_FallsBackToBestMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ns", "a", []float32{-1, 0}))
	require.NoError(t, store.Put(ctx, "ns", "b", []float32{0, -1}))

	// Nothing clears the threshold; the single best match is returned anyway.
	matches, err := store.TopK(ctx, "ns", []float32{1, 0}, 5, 0.15)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestTopK_EmptyNamespace(t *testing.T) {
	store := newTestStore(t)

	_, err := store.TopK(context.Background(), "empty", []float32{1}, 5, 0.15)
	require.ErrorIs(t, err, apperrors.ErrSchemaEmpty)
}

func TestTopK_CapsAtK(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, store.Put(ctx, "ns", name, []float32{1, 0.1}))
	}

	matches, err := store.TopK(ctx, "ns", []float32{1, 0}, 3, 0.15)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
	// Equal scores break ties alphabetically.
	assert.Equal(t, "a", matches[0].Table)
	assert.Equal(t, "b", matches[1].Table)
}

func TestDim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dim, err := store.Dim(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 0, dim)

	require.NoError(t, store.Put(ctx, "ns", "servers", []float32{1, 2, 3}))
	dim, err = store.Dim(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
}

func TestRebuild_ReplacesDriftedVectors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	canonical, err := schema.Parse([]byte(rebuildSchemaJSON))
	require.NoError(t, err)

	// Vectors from a previous embedding model, plus a table that no longer
	// exists in the schema.
	require.NoError(t, store.Put(ctx, "testdb", "servers", []float32{1, 0}))
	require.NoError(t, store.Put(ctx, "testdb", "decommissioned", []float32{0, 1}))

	mock := llm.NewMockClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}

	require.NoError(t, store.Rebuild(ctx, canonical, mock))

	dim, err := store.Dim(ctx, "testdb")
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	n, err := store.Count(ctx, "testdb")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gone, err := store.Get(ctx, "testdb", "decommissioned")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestQueryEmbedding_CachesByText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mock := llm.NewMockClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	}

	vec1, err := store.QueryEmbedding(ctx, mock, "show all servers")
	require.NoError(t, err)
	vec2, err := store.QueryEmbedding(ctx, mock, "show all servers")
	require.NoError(t, err)

	assert.Equal(t, vec1, vec2)
	assert.Equal(t, 1, mock.CreateEmbeddingCalls)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestVectorCodec_PreservesDimension(t *testing.T) {
	// Entries of different dimensions round-trip independently.
	for _, dim := range []int{3, 384, 768} {
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(i) * 0.5
		}
		assert.Equal(t, vec, decodeVector(encodeVector(vec)))
	}
}

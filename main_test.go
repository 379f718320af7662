package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/embeddings"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

const bootSchemaJSON = `{
	"schema_id": "testdb",
	"source_type": "database",
	"database_type": "sqlite",
	"suggested_queries": ["Show all servers"],
	"tables": {
		"servers": {
			"name": "servers",
			"description": "Fleet inventory",
			"columns": {
				"id": {"name": "id", "data_type": "INTEGER", "description": "pk", "is_primary_key": true},
				"name": {"name": "name", "data_type": "TEXT", "description": "hostname"}
			}
		}
	}
}`

func bootSchema(t *testing.T) *schema.Schema {
	t.Helper()
	canonical, err := schema.Parse([]byte(bootSchemaJSON))
	require.NoError(t, err)
	return canonical
}

func TestCheckDrift(t *testing.T) {
	canonical := bootSchema(t)

	live := &datasource.Introspection{Columns: map[string]map[string]bool{
		"servers": {"id": true, "name": true, "extra": true},
	}}
	assert.NoError(t, checkDrift(canonical, live))

	live = &datasource.Introspection{Columns: map[string]map[string]bool{
		"servers": {"id": true},
	}}
	err := checkDrift(canonical, live)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaDrift)
	assert.Contains(t, err.Error(), `column "servers"."name"`)

	live = &datasource.Introspection{Columns: map[string]map[string]bool{}}
	err = checkDrift(canonical, live)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaDrift)
	assert.Contains(t, err.Error(), `table "servers"`)
}

func newBootStore(t *testing.T) *embeddings.Store {
	t.Helper()
	store, err := embeddings.Open(filepath.Join(t.TempDir(), "emb.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func embeddingMock(dim int) *llm.MockClient {
	mock := llm.NewMockClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return make([]float32, dim), nil
	}
	return mock
}

func TestEnsureEmbeddingsRebuildsEmptyStore(t *testing.T) {
	ctx := context.Background()
	canonical := bootSchema(t)
	store := newBootStore(t)
	mock := embeddingMock(3)

	require.NoError(t, ensureEmbeddings(ctx, store, canonical, mock, zap.NewNop()))

	n, err := store.Count(ctx, "testdb")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnsureEmbeddingsRebuildsOnDimensionDrift(t *testing.T) {
	ctx := context.Background()
	canonical := bootSchema(t)
	store := newBootStore(t)

	// Vectors left behind by a smaller embedding model.
	require.NoError(t, store.Put(ctx, "testdb", "servers", []float32{1, 0}))

	mock := embeddingMock(3)
	require.NoError(t, ensureEmbeddings(ctx, store, canonical, mock, zap.NewNop()))

	dim, err := store.Dim(ctx, "testdb")
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
}

func TestEnsureEmbeddingsSkipsMatchingStore(t *testing.T) {
	ctx := context.Background()
	canonical := bootSchema(t)
	store := newBootStore(t)

	require.NoError(t, store.Put(ctx, "testdb", "servers", []float32{1, 0, 0}))

	mock := embeddingMock(3)
	require.NoError(t, ensureEmbeddings(ctx, store, canonical, mock, zap.NewNop()))

	// Only the dimension check call ran; no table was re-embedded.
	assert.Equal(t, 1, mock.CreateEmbeddingCalls)
}

package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/config"
	"github.com/askdb-ai/askdb-engine/pkg/embeddings"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/pipeline"
	"github.com/askdb-ai/askdb-engine/pkg/prompts"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
	"github.com/askdb-ai/askdb-engine/pkg/session"
	"github.com/askdb-ai/askdb-engine/pkg/sqlcache"
)

const testSchemaJSON = `{
	"schema_id": "testdb",
	"source_type": "database",
	"database_type": "sqlite",
	"suggested_queries": ["Show all servers", "Count servers per datacenter"],
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

// stubAdapter scripts database behavior for handler tests. It records the
// query-timeout override carried by the context of the last call.
type stubAdapter struct {
	columns     []string
	rows        [][]any
	total       int
	countErr    error
	lastTimeout time.Duration
}

func (a *stubAdapter) Dialect() string { return "sqlite" }

func (a *stubAdapter) Introspect(ctx context.Context) (*datasource.Introspection, error) {
	return &datasource.Introspection{}, nil
}

func (a *stubAdapter) Count(ctx context.Context, sqlQuery string, cap int) (int, error) {
	a.lastTimeout = datasource.QueryTimeoutFrom(ctx, 0)
	if a.countErr != nil {
		return 0, a.countErr
	}
	return a.total, nil
}

func (a *stubAdapter) ExecutePreview(ctx context.Context, sqlQuery string, limit int) (*datasource.PreviewResult, error) {
	a.lastTimeout = datasource.QueryTimeoutFrom(ctx, 0)
	rows := a.rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return &datasource.PreviewResult{Columns: a.columns, Rows: rows}, nil
}

func (a *stubAdapter) ExecuteStream(ctx context.Context, sqlQuery string) (datasource.RowIterator, error) {
	return &sliceIterator{columns: a.columns, rows: a.rows}, nil
}

func (a *stubAdapter) Close() {}

type sliceIterator struct {
	columns []string
	rows    [][]any
	pos     int
}

func (it *sliceIterator) Columns() []string { return it.columns }

func (it *sliceIterator) Next() ([]any, error) {
	if it.pos >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

func (it *sliceIterator) Close() error { return nil }

// env bundles the handler test fixtures.
type env struct {
	mux      *http.ServeMux
	cfg      *config.Config
	adapter  *stubAdapter
	cache    *sqlcache.Cache
	sessions *session.Store
	pipeline *pipeline.Pipeline

	intentResponse  string
	sqlResponse     string
	insightResponse string
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	canonical, err := schema.Parse([]byte(testSchemaJSON))
	require.NoError(t, err)

	store, err := embeddings.Open(filepath.Join(dir, "emb.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Put(ctx, "testdb", "servers", []float32{1, 0, 0}))

	cache, err := sqlcache.Open(filepath.Join(dir, "cache.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	sessions := session.NewStore(time.Minute, zap.NewNop())
	t.Cleanup(sessions.Close)

	e := &env{
		adapter: &stubAdapter{
			columns: []string{"id", "name"},
			rows:    [][]any{{int64(1), "web-1"}, {int64(2), "web-2"}},
			total:   2,
		},
		cache:           cache,
		sessions:        sessions,
		intentResponse:  `{"intent": "sql", "rewritten_query": "show all servers"}`,
		sqlResponse:     "SELECT * FROM servers",
		insightResponse: "Two servers in the fleet.",
	}

	mock := llm.NewMockClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		switch systemMessage {
		case prompts.IntentSystemMessage:
			return e.intentResponse, nil
		case prompts.SQLGenSystemMessage:
			return e.sqlResponse, nil
		case prompts.InsightSystemMessage:
			return e.insightResponse, nil
		default:
			return "", fmt.Errorf("unexpected system message %q", systemMessage)
		}
	}

	e.cfg = &config.Config{
		SchemaID: "testdb",
		Version:  "test",
		Env:      "test",
		Database: config.DatabaseConfig{
			QueryTimeoutSeconds:     30,
			ChatQueryTimeoutSeconds: 45,
		},
		Pipeline: config.PipelineConfig{
			MaxRelevantTables:   5,
			MaxExpandedTables:   15,
			MaxSchemaTokens:     8000,
			SimilarityThreshold: 0.15,
			MaxCacheRows:        50,
			PreviewRows:         50,
			CountCap:            1000,
			CacheTTLSeconds:     600,
			CSVChunkSize:        1000,
			MaxGenRetries:       3,
		},
	}

	e.pipeline = pipeline.New(pipeline.Deps{
		Canonical:  canonical,
		Adapter:    e.adapter,
		LLM:        mock,
		Embeddings: store,
		SQLCache:   cache,
		Sessions:   sessions,
		Config:     e.cfg.Pipeline,
		Logger:     zap.NewNop(),
	})

	e.mux = http.NewServeMux()
	NewQueryHandler(e.pipeline, e.cfg, zap.NewNop()).RegisterRoutes(e.mux)
	NewChatHandler(e.pipeline, e.cfg, zap.NewNop()).RegisterRoutes(e.mux)
	NewSchemaHandler(canonical, zap.NewNop()).RegisterRoutes(e.mux)
	NewHealthHandler(e.cfg, cache, e.adapter, zap.NewNop()).RegisterRoutes(e.mux)

	return e
}

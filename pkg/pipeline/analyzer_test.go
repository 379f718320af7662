package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/config"
	"github.com/askdb-ai/askdb-engine/pkg/embeddings"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

func newTestAnalyzer(t *testing.T, cfg config.PipelineConfig, queryVec []float32) (*Analyzer, *llm.MockClient) {
	t.Helper()
	ctx := context.Background()

	canonical, err := schema.Parse([]byte(pipelineSchemaJSON))
	require.NoError(t, err)

	store, err := embeddings.Open(filepath.Join(t.TempDir(), "emb.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Put(ctx, "testdb", "servers", []float32{1, 0, 0}))
	require.NoError(t, store.Put(ctx, "testdb", "datacenters", []float32{0, 1, 0}))

	mock := llm.NewMockClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return queryVec, nil
	}

	return NewAnalyzer(store, mock, canonical, cfg, zap.NewNop()), mock
}

func TestAnalyzeSemanticPlusExpansion(t *testing.T) {
	a, _ := newTestAnalyzer(t, defaultPipelineConfig(), []float32{1, 0, 0})

	res, err := a.Analyze(context.Background(), "show all servers")
	require.NoError(t, err)

	// servers matches semantically; datacenters joins in via the FK edge.
	require.Len(t, res.SemanticMatches, 1)
	assert.Equal(t, "servers", res.SemanticMatches[0].Table)
	assert.Equal(t, []string{"servers", "datacenters"}, res.ExpandedTables)

	assert.Contains(t, res.SchemaContext, "## servers")
	assert.Contains(t, res.SchemaContext, "## datacenters")
	assert.Contains(t, res.SchemaContext, "servers.datacenter_id references datacenters.id")
	assert.LessOrEqual(t, res.TokenEstimate, 8000)
}

func TestAnalyzeSamplesOnlyForSemanticTables(t *testing.T) {
	a, _ := newTestAnalyzer(t, defaultPipelineConfig(), []float32{1, 0, 0})

	res, err := a.Analyze(context.Background(), "show all servers")
	require.NoError(t, err)

	// servers is semantic and carries its samples; datacenters was only
	// FK-expanded and must not.
	assert.Contains(t, res.SchemaContext, "samples=[healthy, unhealthy]")
	assert.Equal(t, 1, strings.Count(res.SchemaContext, "samples=["))
}

func TestAnalyzeTableCap(t *testing.T) {
	cfg := defaultPipelineConfig()
	cfg.MaxExpandedTables = 1
	a, _ := newTestAnalyzer(t, cfg, []float32{1, 0, 0})

	res, err := a.Analyze(context.Background(), "show all servers")
	require.NoError(t, err)
	assert.Equal(t, []string{"servers"}, res.ExpandedTables)
}

func TestAnalyzeTokenBudgetDropsTrailingTables(t *testing.T) {
	cfg := defaultPipelineConfig()
	// Tight budget: the header and the semantic table fit, the FK-expanded
	// table does not.
	cfg.MaxSchemaTokens = 95
	a, _ := newTestAnalyzer(t, cfg, []float32{1, 0, 0})

	res, err := a.Analyze(context.Background(), "show all servers")
	require.NoError(t, err)
	assert.LessOrEqual(t, res.TokenEstimate, 95)
	assert.Contains(t, res.SchemaContext, "## servers")
	assert.NotContains(t, res.SchemaContext, "## datacenters")
}

func TestAnalyzeThresholdFallbackToTopOne(t *testing.T) {
	// Orthogonal query vector: nothing clears the threshold, so the single
	// best match is kept.
	a, _ := newTestAnalyzer(t, defaultPipelineConfig(), []float32{0, 0, 1})

	res, err := a.Analyze(context.Background(), "something unrelated")
	require.NoError(t, err)
	require.Len(t, res.SemanticMatches, 1)
	assert.NotEmpty(t, res.ExpandedTables)
}

func TestAnalyzeEmbeddingRetriesOnce(t *testing.T) {
	a, mock := newTestAnalyzer(t, defaultPipelineConfig(), nil)
	calls := 0
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return []float32{1, 0, 0}, nil
	}

	_, err := a.Analyze(context.Background(), "show all servers")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestAnalyzeEmbeddingFailureSurfacesSchemaEmbed(t *testing.T) {
	a, mock := newTestAnalyzer(t, defaultPipelineConfig(), nil)
	mock.CreateEmbeddingFunc = func(ctx context.Context, input string) ([]float32, error) {
		return nil, fmt.Errorf("embedding endpoint down")
	}

	_, err := a.Analyze(context.Background(), "show all servers")
	assert.ErrorIs(t, err, apperrors.ErrSchemaEmbed)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

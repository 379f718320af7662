package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/prompts"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

func newTestClassifier(t *testing.T, responses ...string) (*Classifier, *llm.MockClient) {
	t.Helper()

	canonical, err := schema.Parse([]byte(pipelineSchemaJSON))
	require.NoError(t, err)

	mock := llm.NewMockClient()
	call := 0
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
		call++
		return pick(responses, call), nil
	}

	return NewClassifier(mock, canonical, 0, zap.NewNop()), mock
}

func TestClassifySQL(t *testing.T) {
	c, _ := newTestClassifier(t, `{"intent": "sql", "rewritten_query": "Show all servers"}`)

	cls, err := c.Classify(context.Background(), "Show all servers", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentSQL, cls.Intent)
	assert.Equal(t, "Show all servers", cls.RewrittenQuery)
	assert.Empty(t, cls.GeneralAnswer)
}

func TestClassifyFollowUpRewriting(t *testing.T) {
	c, mock := newTestClassifier(t,
		`{"intent": "sql", "rewritten_query": "Show all unhealthy servers"}`)

	history := []prompts.HistoryEntry{
		{UserMessage: "Show all servers", GeneratedSQL: "SELECT * FROM servers"},
	}
	cls, err := c.Classify(context.Background(), "which ones are unhealthy?", history)
	require.NoError(t, err)
	assert.Equal(t, "Show all unhealthy servers", cls.RewrittenQuery)

	// History made it into the prompt.
	require.Len(t, mock.Prompts, 1)
	assert.Contains(t, mock.Prompts[0], "SELECT * FROM servers")
}

func TestClassifyGeneral(t *testing.T) {
	c, _ := newTestClassifier(t,
		`{"intent": "general", "general_answer": "DNS resolves names to addresses."}`)

	cls, err := c.Classify(context.Background(), "What is DNS?", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentGeneral, cls.Intent)
	assert.Equal(t, "DNS resolves names to addresses.", cls.GeneralAnswer)
}

func TestClassifyToleratesFencedJSON(t *testing.T) {
	c, _ := newTestClassifier(t,
		"```json\n{\"intent\": \"sql\", \"rewritten_query\": \"Show all servers\"}\n```")

	cls, err := c.Classify(context.Background(), "Show all servers", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentSQL, cls.Intent)
}

func TestClassifyStrictRetryRecovers(t *testing.T) {
	c, mock := newTestClassifier(t,
		"sorry, here you go:",
		`{"intent": "sql", "rewritten_query": "Show all servers"}`)

	cls, err := c.Classify(context.Background(), "Show all servers", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentSQL, cls.Intent)
	assert.Equal(t, 2, mock.GenerateResponseCalls)
	assert.Contains(t, mock.Prompts[1], "previous response was not valid JSON")
}

func TestClassifyFallbackAfterTwoFailures(t *testing.T) {
	c, mock := newTestClassifier(t, "garbage")

	cls, err := c.Classify(context.Background(), "Show all servers", nil)
	require.ErrorIs(t, err, apperrors.ErrIntentParse)
	assert.Equal(t, 2, mock.GenerateResponseCalls)

	// The fallback still lets the pipeline continue.
	assert.Equal(t, IntentSQL, cls.Intent)
	assert.Equal(t, "Show all servers", cls.RewrittenQuery)
}

func TestClassifyDefaultsMissingRewrite(t *testing.T) {
	c, _ := newTestClassifier(t, `{"intent": "sql"}`)

	cls, err := c.Classify(context.Background(), "Show all servers", nil)
	require.NoError(t, err)
	assert.Equal(t, "Show all servers", cls.RewrittenQuery)
}

func TestClassifyUnknownIntentDefaultsToSQL(t *testing.T) {
	c, _ := newTestClassifier(t, `{"intent": "banter", "rewritten_query": "hi"}`)

	cls, err := c.Classify(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentSQL, cls.Intent)
}

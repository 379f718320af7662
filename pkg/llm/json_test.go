package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "bare object",
			input:    `{"intent": "sql"}`,
			expected: `{"intent": "sql"}`,
		},
		{
			name:     "fenced code block",
			input:    "```json\n{\"intent\": \"sql\"}\n```",
			expected: `{"intent": "sql"}`,
		},
		{
			name:     "prose around object",
			input:    "Here is the classification:\n{\"intent\": \"general\"}\nHope that helps!",
			expected: `{"intent": "general"}`,
		},
		{
			name:     "nested braces",
			input:    `{"a": {"b": 1}, "c": [2, 3]}`,
			expected: `{"a": {"b": 1}, "c": [2, 3]}`,
		},
		{
			name:     "braces inside string values",
			input:    `{"sql": "SELECT '{}' FROM t"}`,
			expected: `{"sql": "SELECT '{}' FROM t"}`,
		},
		{
			name:     "escaped quotes in values",
			input:    `{"answer": "he said \"hi\""}`,
			expected: `{"answer": "he said \"hi\""}`,
		},
		{
			name:     "array response",
			input:    "```\n[1, 2, 3]\n```",
			expected: `[1, 2, 3]`,
		},
		{
			name:    "no JSON at all",
			input:   "I cannot answer that.",
			wantErr: true,
		},
		{
			name:    "unbalanced object",
			input:   `{"intent": "sql"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseJSONResponse(t *testing.T) {
	type classification struct {
		Intent         string `json:"intent"`
		RewrittenQuery string `json:"rewritten_query"`
	}

	got, err := ParseJSONResponse[classification]("```json\n{\"intent\": \"sql\", \"rewritten_query\": \"show all servers\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "sql", got.Intent)
	assert.Equal(t, "show all servers", got.RewrittenQuery)

	_, err = ParseJSONResponse[classification](`{"intent": 42}`)
	require.Error(t, err)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

func TestSchemaOverview(t *testing.T) {
	e := newTestEnv(t)

	rec := doJSON(t, e.mux, http.MethodGet, "/api/schema/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body schema.Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tables, 1)
	assert.Equal(t, "servers", body.Tables[0].Name)
	assert.Len(t, body.Tables[0].Columns, 2)
	assert.Equal(t, []string{"Show all servers", "Count servers per datacenter"}, body.SuggestedQueries)
}

func TestSuggestions(t *testing.T) {
	e := newTestEnv(t)

	rec := doJSON(t, e.mux, http.MethodGet, "/api/suggestions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SuggestionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Suggestions, 2)
}

package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
)

const validSchemaJSON = `{
	"schema_id": "infra_test",
	"source_type": "database",
	"database_type": "sqlite",
	"tables": {
		"datacenters": {
			"name": "datacenters",
			"description": "Physical datacenter locations",
			"columns": {
				"id": {"name": "id", "data_type": "integer", "description": "primary key", "is_primary_key": true},
				"region": {"name": "region", "data_type": "text", "description": "geographic region", "sample_values": ["us-east", "eu-west"]}
			}
		},
		"servers": {
			"name": "servers",
			"description": "Physical and virtual servers",
			"columns": {
				"id": {"name": "id", "data_type": "integer", "description": "primary key", "is_primary_key": true},
				"datacenter_id": {"name": "datacenter_id", "data_type": "integer", "description": "owning datacenter", "is_foreign_key": true},
				"status": {"name": "status", "data_type": "text", "description": "health status", "sample_values": ["healthy", "unhealthy"]}
			},
			"relationships": [
				{"from_column": "datacenter_id", "referenced_table": "datacenters", "referenced_column": "id"}
			]
		},
		"load_balancers": {
			"name": "load_balancers",
			"description": "Load balancer fleet",
			"columns": {
				"id": {"name": "id", "data_type": "integer", "description": "primary key", "is_primary_key": true},
				"server_id": {"name": "server_id", "data_type": "integer", "description": "backing server", "is_foreign_key": true}
			},
			"relationships": [
				{"from_column": "server_id", "referenced_table": "servers", "referenced_column": "id"}
			]
		}
	},
	"suggested_queries": ["Show me all load balancers", "Count servers per datacenter"]
}`

func TestParse_Valid(t *testing.T) {
	s, err := Parse([]byte(validSchemaJSON))
	require.NoError(t, err)

	assert.Equal(t, "infra_test", s.SchemaID)
	assert.Equal(t, "sqlite", s.DatabaseType)
	assert.Equal(t, []string{"datacenters", "servers", "load_balancers"}, s.Tables.Names())

	servers := s.Tables.Get("servers")
	require.NotNil(t, servers)
	assert.Equal(t, []string{"id", "datacenter_id", "status"}, servers.Columns.Names())
	assert.Equal(t, []string{"healthy", "unhealthy"}, servers.Columns.Get("status").SampleValues)
}

func TestParse_FKGraph(t *testing.T) {
	s, err := Parse([]byte(validSchemaJSON))
	require.NoError(t, err)

	assert.Equal(t, []string{"datacenters"}, s.Outbound["servers"])
	assert.Equal(t, []string{"servers"}, s.Outbound["load_balancers"])
	assert.Empty(t, s.Outbound["datacenters"])

	assert.Equal(t, []string{"servers"}, s.Inbound["datacenters"])
	assert.Equal(t, []string{"load_balancers"}, s.Inbound["servers"])
}

// Every referenced_table in any relationship must be a key in tables.
func TestParse_UnknownReferencedTable(t *testing.T) {
	bad := `{
		"schema_id": "x",
		"source_type": "database",
		"database_type": "sqlite",
		"tables": {
			"a": {
				"name": "a",
				"description": "",
				"columns": {"id": {"name": "id", "data_type": "integer", "description": ""}},
				"relationships": [{"from_column": "id", "referenced_table": "ghost", "referenced_column": "id"}]
			}
		},
		"suggested_queries": ["q"]
	}`

	_, err := Parse([]byte(bad))
	require.ErrorIs(t, err, apperrors.ErrSchemaInvalid)
	assert.Contains(t, err.Error(), "ghost")
}

func TestParse_EmptySuggestedQueries(t *testing.T) {
	bad := `{
		"schema_id": "x",
		"source_type": "database",
		"database_type": "sqlite",
		"tables": {
			"a": {"name": "a", "description": "", "columns": {"id": {"name": "id", "data_type": "integer", "description": ""}}}
		},
		"suggested_queries": []
	}`

	_, err := Parse([]byte(bad))
	require.ErrorIs(t, err, apperrors.ErrSchemaInvalid)
}

func TestParse_NoTables(t *testing.T) {
	bad := `{"schema_id": "x", "source_type": "database", "database_type": "sqlite", "tables": {}, "suggested_queries": ["q"]}`
	_, err := Parse([]byte(bad))
	require.ErrorIs(t, err, apperrors.ErrSchemaInvalid)
}

func TestParse_TruncatesOversizedSampleValues(t *testing.T) {
	long := `{
		"schema_id": "x",
		"source_type": "database",
		"database_type": "postgres",
		"tables": {
			"a": {"name": "a", "description": "", "columns": {
				"v": {"name": "v", "data_type": "text", "description": "", "sample_values": ["1","2","3","4","5","6","7","8","9","10","11","12"]}
			}}
		},
		"suggested_queries": ["q"]
	}`

	s, err := Parse([]byte(long))
	require.NoError(t, err)
	assert.Len(t, s.Tables.Get("a").Columns.Get("v").SampleValues, 10)
}

// Schema JSON -> load -> serialize -> re-load must be JSON-equivalent.
func TestRoundTrip(t *testing.T) {
	s, err := Parse([]byte(validSchemaJSON))
	require.NoError(t, err)

	out, err := json.Marshal(s)
	require.NoError(t, err)

	s2, err := Parse(out)
	require.NoError(t, err)

	assert.Equal(t, s.SchemaID, s2.SchemaID)
	assert.Equal(t, s.Tables.Names(), s2.Tables.Names())
	for _, name := range s.Tables.Names() {
		assert.Equal(t, s.Tables.Get(name).Columns.Names(), s2.Tables.Get(name).Columns.Names(), name)
	}
	assert.Equal(t, s.SuggestedQueries, s2.SuggestedQueries)
}

// Every table appears exactly once in the overview.
func TestBuildOverview(t *testing.T) {
	s, err := Parse([]byte(validSchemaJSON))
	require.NoError(t, err)

	overview := s.BuildOverview()
	require.Len(t, overview.Tables, 3)

	seen := make(map[string]int)
	for _, ot := range overview.Tables {
		seen[ot.Name]++
	}
	for _, name := range s.Tables.Names() {
		assert.Equal(t, 1, seen[name], name)
	}

	assert.Equal(t, s.SuggestedQueries, overview.SuggestedQueries)
}

func TestCompactHeader(t *testing.T) {
	s, err := Parse([]byte(validSchemaJSON))
	require.NoError(t, err)

	header := s.CompactHeader()
	assert.Contains(t, header, "servers: Physical and virtual servers")
	assert.Contains(t, header, "load_balancers: Load balancer fleet")
}

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectVizEmptyAndScalar(t *testing.T) {
	assert.Nil(t, SelectViz([]string{"a"}, nil))
	assert.Nil(t, SelectViz([]string{"count"}, [][]any{{int64(5)}}))
}

func TestSelectVizLine(t *testing.T) {
	cols := []string{"date", "requests"}
	rows := [][]any{
		{"2026-01-01", int64(120)},
		{"2026-01-02", int64(140)},
	}

	viz := SelectViz(cols, rows)
	require.NotNil(t, viz)
	assert.Equal(t, "line", viz.Type)
	assert.Equal(t, "date", viz.XColumn)
	assert.Equal(t, "requests", viz.YColumn)
}

func TestSelectVizLineByValueParse(t *testing.T) {
	// Column name gives nothing away; the first value parses as a date.
	cols := []string{"bucket", "total"}
	rows := [][]any{
		{"2026-01-01", int64(3)},
		{"2026-01-02", int64(4)},
	}

	viz := SelectViz(cols, rows)
	require.NotNil(t, viz)
	assert.Equal(t, "line", viz.Type)
}

func TestSelectVizBar(t *testing.T) {
	cols := []string{"datacenter", "count"}
	rows := [][]any{
		{"us-east", int64(12)},
		{"eu-west", int64(7)},
		{"ap-south", int64(3)},
	}

	viz := SelectViz(cols, rows)
	require.NotNil(t, viz)
	assert.Equal(t, "bar", viz.Type)
	assert.Equal(t, "datacenter", viz.XColumn)
	assert.Equal(t, "count", viz.YColumn)
}

func TestSelectVizPie(t *testing.T) {
	cols := []string{"status", "share_pct"}
	rows := [][]any{
		{"healthy", 82.5},
		{"unhealthy", 17.5},
	}

	viz := SelectViz(cols, rows)
	require.NotNil(t, viz)
	assert.Equal(t, "pie", viz.Type)
}

func TestSelectVizScatter(t *testing.T) {
	cols := []string{"cpu", "memory"}
	rows := [][]any{
		{1.2, 512.0},
		{3.4, 1024.0},
	}

	viz := SelectViz(cols, rows)
	require.NotNil(t, viz)
	assert.Equal(t, "scatter", viz.Type)
	assert.Equal(t, "cpu", viz.XColumn)
	assert.Equal(t, "memory", viz.YColumn)
}

func TestSelectVizHighCardinalityStringsAreNotGrouping(t *testing.T) {
	cols := []string{"hostname", "cpu"}
	rows := make([][]any, 20)
	for i := range rows {
		rows[i] = []any{string(rune('a' + i)), float64(i)}
	}

	// One numeric, one high-cardinality string: table only.
	assert.Nil(t, SelectViz(cols, rows))
}

func TestIsTrivialResult(t *testing.T) {
	cases := []struct {
		name    string
		columns []string
		rows    [][]any
		want    bool
	}{
		{"single name column", []string{"name"}, [][]any{{"a"}, {"b"}}, true},
		{"two columns", []string{"name", "status"}, [][]any{{"a", "ok"}}, false},
		{"aggregate column", []string{"count"}, [][]any{{int64(5)}}, false},
		{"count(*) column", []string{"count(*)"}, [][]any{{int64(5)}}, false},
		{"temporal column", []string{"created_date"}, [][]any{{"2026-01-01"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTrivialResult(tc.columns, tc.rows))
		})
	}
}

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// maxGroupCardinality is the distinct-value ceiling for a string column to
// count as a grouping axis.
const maxGroupCardinality = 10

// maxPieRows bounds how many slices a pie chart may carry.
const maxPieRows = 10

var temporalNamePattern = regexp.MustCompile(`(?i)(timestamp|date|time)`)

var aggregateNamePattern = regexp.MustCompile(`(?i)^(count|sum|avg|average|total|min|max)([_(].*)?$`)

var shareNamePattern = regexp.MustCompile(`(?i)(share|percent|pct|ratio|fraction)`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
}

// SelectViz picks a visualization for a result set with ordered rules over
// the column shapes. Returns nil when a plain table is the right rendering.
func SelectViz(columns []string, rows [][]any) *VizSpec {
	if len(rows) == 0 || (len(rows) == 1 && len(columns) == 1) {
		return nil
	}

	var temporal, numeric, grouping []string
	for i, name := range columns {
		switch {
		case isTemporalColumn(name, firstValue(rows, i)):
			temporal = append(temporal, name)
		case isNumericColumn(rows, i):
			numeric = append(numeric, name)
		case isGroupingColumn(rows, i):
			grouping = append(grouping, name)
		}
	}

	switch {
	case len(temporal) == 1 && len(numeric) >= 1:
		return &VizSpec{
			Type:    "line",
			Title:   fmt.Sprintf("%s over %s", numeric[0], temporal[0]),
			XColumn: temporal[0],
			YColumn: numeric[0],
			Reason:  "one temporal column with a numeric series",
		}
	case len(grouping) == 1 && len(numeric) == 1:
		if len(rows) <= maxPieRows && shareNamePattern.MatchString(numeric[0]) {
			return &VizSpec{
				Type:    "pie",
				Title:   fmt.Sprintf("%s by %s", numeric[0], grouping[0]),
				XColumn: grouping[0],
				YColumn: numeric[0],
				Reason:  "one grouping column with a numeric share",
			}
		}
		return &VizSpec{
			Type:    "bar",
			Title:   fmt.Sprintf("%s by %s", numeric[0], grouping[0]),
			XColumn: grouping[0],
			YColumn: numeric[0],
			Reason:  "one grouping column with a numeric aggregate",
		}
	case len(numeric) >= 2 && len(grouping) == 0:
		return &VizSpec{
			Type:    "scatter",
			Title:   fmt.Sprintf("%s vs %s", numeric[1], numeric[0]),
			XColumn: numeric[0],
			YColumn: numeric[1],
			Reason:  "two numeric columns without a grouping axis",
		}
	default:
		return nil
	}
}

// isTrivialResult reports whether a result set is a plain single-column
// listing: no aggregates, no temporal axis. Such results skip the LLM
// insight call.
func isTrivialResult(columns []string, rows [][]any) bool {
	if len(columns) != 1 {
		return false
	}
	if aggregateNamePattern.MatchString(columns[0]) {
		return false
	}
	return !isTemporalColumn(columns[0], firstValue(rows, 0))
}

func firstValue(rows [][]any, col int) any {
	for _, row := range rows {
		if col < len(row) && row[col] != nil {
			return row[col]
		}
	}
	return nil
}

func isTemporalColumn(name string, first any) bool {
	if temporalNamePattern.MatchString(name) {
		return true
	}
	s, ok := first.(string)
	if !ok {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isNumericColumn(rows [][]any, col int) bool {
	sampled := false
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		if !isNumericValue(row[col]) {
			return false
		}
		sampled = true
	}
	return sampled
}

func isNumericValue(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func isGroupingColumn(rows [][]any, col int) bool {
	distinct := make(map[string]bool)
	sampled := false
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		s, ok := row[col].(string)
		if !ok {
			return false
		}
		sampled = true
		distinct[strings.ToLower(s)] = true
		if len(distinct) > maxGroupCardinality {
			return false
		}
	}
	return sampled
}

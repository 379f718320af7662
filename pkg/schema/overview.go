package schema

// Overview is the public shape returned by GET /api/schema/overview.
type Overview struct {
	Tables           []OverviewTable `json:"tables"`
	SuggestedQueries []string        `json:"suggested_queries"`
}

// OverviewTable is one table in the overview response.
type OverviewTable struct {
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Columns       []OverviewColumn `json:"columns"`
	Relationships []Relationship   `json:"relationships,omitempty"`
}

// OverviewColumn is one column in the overview response.
type OverviewColumn struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	SampleValues []string `json:"sample_values,omitempty"`
}

// BuildOverview flattens the canonical schema into its overview shape.
// Every table appears exactly once, in declaration order.
func (s *Schema) BuildOverview() Overview {
	overview := Overview{
		Tables:           make([]OverviewTable, 0, s.Tables.Len()),
		SuggestedQueries: s.SuggestedQueries,
	}

	for _, name := range s.Tables.Names() {
		t := s.Tables.Get(name)
		ot := OverviewTable{
			Name:          t.Name,
			Description:   t.Description,
			Relationships: t.Relationships,
			Columns:       make([]OverviewColumn, 0, t.Columns.Len()),
		}
		for _, colName := range t.Columns.Names() {
			c := t.Columns.Get(colName)
			ot.Columns = append(ot.Columns, OverviewColumn{
				Name:         c.Name,
				Type:         c.DataType,
				Description:  c.Description,
				SampleValues: c.SampleValues,
			})
		}
		overview.Tables = append(overview.Tables, ot)
	}

	return overview
}

// CompactHeader renders one line per table ("name: description") for
// inclusion in intent classification prompts.
func (s *Schema) CompactHeader() string {
	var b []byte
	for _, name := range s.Tables.Names() {
		t := s.Tables.Get(name)
		b = append(b, name...)
		if t.Description != "" {
			b = append(b, ": "...)
			b = append(b, t.Description...)
		}
		b = append(b, '\n')
	}
	return string(b)
}

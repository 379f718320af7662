// Package schema holds the canonical schema: the JSON-defined description of
// tables, columns, relationships, sample values, and curated suggested
// queries. It is loaded once at startup and shared read-only by all pipeline
// stages.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
)

// Schema is the process-wide canonical schema, immutable after Load.
type Schema struct {
	SchemaID         string   `json:"schema_id"`
	SourceType       string   `json:"source_type"`
	DatabaseType     string   `json:"database_type"`
	Tables           TableMap `json:"tables"`
	SuggestedQueries []string `json:"suggested_queries"`

	// Outbound maps a table to the tables it references via foreign keys.
	// Inbound is the reverse index, derived at load time.
	Outbound map[string][]string `json:"-"`
	Inbound  map[string][]string `json:"-"`
}

// TableMap is an order-preserving mapping of table name to definition.
// JSON objects lose key order under encoding/json maps, so declaration
// order is captured separately during decoding.
type TableMap struct {
	byName map[string]*Table
	order  []string
}

// Table describes one table of the canonical schema.
type Table struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Columns       ColumnMap      `json:"columns"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// ColumnMap is an order-preserving mapping of column name to definition.
type ColumnMap struct {
	byName map[string]*Column
	order  []string
}

// Column describes one column, including optional sample values that are
// included verbatim in LLM prompts.
type Column struct {
	Name         string   `json:"name"`
	DataType     string   `json:"data_type"`
	Description  string   `json:"description"`
	IsPrimaryKey bool     `json:"is_primary_key,omitempty"`
	IsForeignKey bool     `json:"is_foreign_key,omitempty"`
	SampleValues []string `json:"sample_values,omitempty"`
}

// Relationship is an outbound foreign key edge.
type Relationship struct {
	FromColumn       string `json:"from_column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// maxSampleValues caps sample values carried per column.
const maxSampleValues = 10

// Load parses the canonical schema JSON at path, validates its invariants,
// and builds the foreign key graph. Returns apperrors.ErrSchemaInvalid when
// the file violates the canonical schema contract.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read canonical schema %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates canonical schema JSON.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", apperrors.ErrSchemaInvalid, err)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	s.buildFKGraph()
	return &s, nil
}

func (s *Schema) validate() error {
	if s.SchemaID == "" {
		return fmt.Errorf("%w: schema_id is empty", apperrors.ErrSchemaInvalid)
	}
	if len(s.SuggestedQueries) == 0 {
		return fmt.Errorf("%w: suggested_queries is empty", apperrors.ErrSchemaInvalid)
	}
	if s.Tables.Len() == 0 {
		return fmt.Errorf("%w: no tables defined", apperrors.ErrSchemaInvalid)
	}
	if s.DatabaseType != "sqlite" && s.DatabaseType != "postgres" {
		return fmt.Errorf("%w: unsupported database_type %q", apperrors.ErrSchemaInvalid, s.DatabaseType)
	}

	for _, name := range s.Tables.Names() {
		t := s.Tables.Get(name)
		for _, rel := range t.Relationships {
			if s.Tables.Get(rel.ReferencedTable) == nil {
				return fmt.Errorf("%w: table %q references unknown table %q",
					apperrors.ErrSchemaInvalid, name, rel.ReferencedTable)
			}
		}
		for _, col := range t.Columns.Names() {
			c := t.Columns.Get(col)
			if len(c.SampleValues) > maxSampleValues {
				c.SampleValues = c.SampleValues[:maxSampleValues]
			}
		}
	}

	return nil
}

// buildFKGraph derives the outbound and inbound multimaps from declared
// relationships. Entries are deduplicated and kept in deterministic order.
func (s *Schema) buildFKGraph() {
	s.Outbound = make(map[string][]string)
	s.Inbound = make(map[string][]string)

	seenOut := make(map[string]map[string]bool)
	seenIn := make(map[string]map[string]bool)

	for _, name := range s.Tables.Names() {
		t := s.Tables.Get(name)
		for _, rel := range t.Relationships {
			if seenOut[name] == nil {
				seenOut[name] = make(map[string]bool)
			}
			if !seenOut[name][rel.ReferencedTable] {
				seenOut[name][rel.ReferencedTable] = true
				s.Outbound[name] = append(s.Outbound[name], rel.ReferencedTable)
			}

			if seenIn[rel.ReferencedTable] == nil {
				seenIn[rel.ReferencedTable] = make(map[string]bool)
			}
			if !seenIn[rel.ReferencedTable][name] {
				seenIn[rel.ReferencedTable][name] = true
				s.Inbound[rel.ReferencedTable] = append(s.Inbound[rel.ReferencedTable], name)
			}
		}
	}

	for _, targets := range s.Inbound {
		sort.Strings(targets)
	}
}

// Get returns the table definition for name, or nil.
func (m *TableMap) Get(name string) *Table {
	return m.byName[name]
}

// Names returns table names in declaration order.
func (m *TableMap) Names() []string {
	return m.order
}

// Len returns the number of tables.
func (m *TableMap) Len() int {
	return len(m.order)
}

// Get returns the column definition for name, or nil.
func (m *ColumnMap) Get(name string) *Column {
	return m.byName[name]
}

// Names returns column names in declaration order.
func (m *ColumnMap) Names() []string {
	return m.order
}

// Len returns the number of columns.
func (m *ColumnMap) Len() int {
	return len(m.order)
}

// UnmarshalJSON decodes the tables object preserving key order.
func (m *TableMap) UnmarshalJSON(data []byte) error {
	m.byName = make(map[string]*Table)
	m.order = nil

	return decodeOrderedObject(data, func(key string, raw json.RawMessage) error {
		var t Table
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("table %q: %w", key, err)
		}
		if t.Name == "" {
			t.Name = key
		}
		m.byName[key] = &t
		m.order = append(m.order, key)
		return nil
	})
}

// MarshalJSON encodes tables in declaration order.
func (m TableMap) MarshalJSON() ([]byte, error) {
	return encodeOrderedObject(m.order, func(key string) (any, error) {
		return m.byName[key], nil
	})
}

// UnmarshalJSON decodes the columns object preserving key order.
func (m *ColumnMap) UnmarshalJSON(data []byte) error {
	m.byName = make(map[string]*Column)
	m.order = nil

	return decodeOrderedObject(data, func(key string, raw json.RawMessage) error {
		var c Column
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("column %q: %w", key, err)
		}
		if c.Name == "" {
			c.Name = key
		}
		m.byName[key] = &c
		m.order = append(m.order, key)
		return nil
	})
}

// MarshalJSON encodes columns in declaration order.
func (m ColumnMap) MarshalJSON() ([]byte, error) {
	return encodeOrderedObject(m.order, func(key string) (any, error) {
		return m.byName[key], nil
	})
}

// decodeOrderedObject walks a JSON object token by token so key order
// survives decoding.
func decodeOrderedObject(data []byte, visit func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		if err := visit(key, raw); err != nil {
			return err
		}
	}

	// Consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func encodeOrderedObject(order []string, value func(key string) (any, error)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		v, err := value(key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

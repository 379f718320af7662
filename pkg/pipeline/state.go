// Package pipeline orchestrates the NL-to-SQL stages: intent classification
// with conversation-aware rewriting, cache lookup, semantic schema analysis,
// SQL generation, safety validation, execution, and interpretation. Stages
// pass a single State record; each stage mutates only its own fields.
package pipeline

// Intent is the classified kind of a user message.
type Intent string

const (
	IntentSQL     Intent = "sql"
	IntentGeneral Intent = "general"
	IntentMixed   Intent = "mixed"
)

// CacheHitType records whether the SQL cache supplied the statement.
type CacheHitType string

const (
	CacheHitNone CacheHitType = "none"
	CacheHitSQL  CacheHitType = "sql"
)

// VizSpec describes the visualization the interpreter selected for a
// result set. A nil VizSpec means table-only.
type VizSpec struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	XColumn     string `json:"x_column"`
	YColumn     string `json:"y_column"`
	GroupColumn string `json:"group_column,omitempty"`
	Reason      string `json:"reason"`
}

// State is the per-request record threaded through every stage. Created at
// ingress, discarded at response emission; only the generator (SQL cache)
// and executor (session query cache) persist anything beyond it.
type State struct {
	OriginalQuery string
	SessionID     string

	Intent         Intent
	GeneralAnswer  string
	RewrittenQuery string

	CacheHitType CacheHitType
	GeneratedSQL string

	RelevantTables []string
	SchemaContext  string
	TokenEstimate  int

	ValidationOK    bool
	ValidationError string

	QueryID    string
	Columns    []string
	Rows       [][]any
	TotalCount int
	Truncated  bool

	Interpretation string
	Visualization  *VizSpec

	ErrorStage   string
	ErrorMessage string
}

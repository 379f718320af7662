package prompts

import (
	"fmt"
	"strings"
)

// SQLGenSystemMessage frames the generation call.
const SQLGenSystemMessage = `You are an expert SQL writer. You output a single read-only SQL ` +
	`statement and nothing else: no prose, no markdown fences, no explanations.`

// BuildSQLGenPrompt creates the SQL generation prompt for one dialect.
// lastSQL and lastError carry repair context on retries; both empty on the
// first attempt.
func BuildSQLGenPrompt(query, schemaContext, dialect, lastSQL, lastError string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Generate %s SQL\n\n", dialect)

	b.WriteString("## Schema\n\n")
	b.WriteString(schemaContext)
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Question\n\n%s\n\n", query)

	b.WriteString("## Rules\n\n")
	b.WriteString("- SELECT statements only (a WITH clause introducing SELECTs is fine).\n")
	b.WriteString("- Prefer explicit JOINs over implicit comma joins.\n")
	b.WriteString("- Include a LIMIT unless the query aggregates an already-small set.\n")
	switch dialect {
	case "postgres":
		b.WriteString("- Date arithmetic: CURRENT_DATE - INTERVAL '30 days'.\n")
	case "sqlite":
		b.WriteString("- Date arithmetic: date('now','-30 day').\n")
	}
	b.WriteString("- Never reference sqlite_master, pg_catalog, or information_schema.\n")

	if lastSQL != "" {
		b.WriteString("\n## Previous attempt\n\n")
		fmt.Fprintf(&b, "```sql\n%s\n```\n\n", lastSQL)
		fmt.Fprintf(&b, "It failed with: %s\n\nFix the problem and return a corrected statement.\n", lastError)
	}

	return b.String()
}

// ExtractSQL strips markdown fences and labels from a generation response,
// leaving the bare statement.
func ExtractSQL(response string) string {
	s := strings.TrimSpace(response)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	// Some models prefix a label despite instructions.
	s = strings.TrimPrefix(s, "SQL:")
	return strings.TrimSpace(s)
}

package prompts

import (
	"fmt"
	"strings"
)

// InsightSystemMessage frames the interpretation call.
const InsightSystemMessage = `You are a data analyst. You summarize query results in concise ` +
	`markdown for a business reader.`

// insightRowCap bounds how many rows are shown to the model.
const insightRowCap = 50

// BuildInsightPrompt creates the interpretation prompt over a preview of
// the result set.
func BuildInsightPrompt(question, sqlQuery string, columns []string, rows [][]any, totalCount int) string {
	var b strings.Builder

	b.WriteString("# Summarize query results\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "SQL:\n```sql\n%s\n```\n\n", sqlQuery)

	shown := len(rows)
	if shown > insightRowCap {
		shown = insightRowCap
	}
	switch {
	case totalCount >= 0:
		fmt.Fprintf(&b, "Result: %d rows total, first %d shown.\n\n", totalCount, shown)
	default:
		fmt.Fprintf(&b, "Result: more than %d rows, first %d shown.\n\n", shown, shown)
	}

	b.WriteString("## Data\n\n")
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString("\n")
	for _, row := range rows[:shown] {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString("\n")
	}

	b.WriteString("\n## Instructions\n\n")
	b.WriteString("Write at most 200 words of markdown: a one-sentence summary, " +
		"then up to 5 bullet findings. Mention concrete values. Do not repeat the SQL.\n")

	return b.String()
}

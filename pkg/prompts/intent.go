// Package prompts builds the LLM prompts used by the pipeline stages.
package prompts

import (
	"fmt"
	"strings"
)

// HistoryEntry is one prior exchange injected into prompts.
type HistoryEntry struct {
	UserMessage  string
	GeneratedSQL string
}

// IntentSystemMessage frames the classification call.
const IntentSystemMessage = `You are an intent classifier for a database assistant. ` +
	`You respond with strict JSON only: no prose, no markdown fences.`

// intentStrictSuffix is appended on the retry after a JSON parse failure.
const intentStrictSuffix = "\n\nIMPORTANT: Your previous response was not valid JSON. " +
	"Respond with EXACTLY one JSON object and nothing else."

// BuildIntentPrompt creates the classify-and-rewrite prompt. The rewriter
// must resolve pronouns and ellipses from history into a standalone query,
// and must echo standalone queries unchanged so cache keys stay stable.
func BuildIntentPrompt(query string, history []HistoryEntry, schemaHeader string, suggestions []string, strict bool) string {
	var b strings.Builder

	b.WriteString("# Task\n\n")
	b.WriteString("Classify the user's message and, when it asks about data, rewrite it as a standalone query.\n\n")

	b.WriteString("## Database tables\n\n")
	b.WriteString(schemaHeader)
	b.WriteString("\n")

	if len(suggestions) > 0 {
		b.WriteString("## Example questions users ask\n\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("## Conversation so far\n\n")
		for _, h := range history {
			fmt.Fprintf(&b, "User: %s\n", h.UserMessage)
			if h.GeneratedSQL != "" {
				fmt.Fprintf(&b, "SQL: %s\n", h.GeneratedSQL)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Message\n\n%s\n\n", query)

	b.WriteString("## Rules\n\n")
	b.WriteString("- intent is \"sql\" when the message asks about data in the tables above.\n")
	b.WriteString("- intent is \"general\" when it is general knowledge unrelated to the data.\n")
	b.WriteString("- intent is \"mixed\" when it contains both.\n")
	b.WriteString("- rewritten_query is REQUIRED for sql and mixed: resolve pronouns and references " +
		"(\"which ones\", \"those\", \"them\") using the conversation. " +
		"If the message already stands alone, copy it verbatim - do not rephrase it.\n")
	b.WriteString("- general_answer is a short markdown answer, only for general and mixed.\n\n")

	b.WriteString("## Response format\n\n")
	b.WriteString(`{"intent": "sql|general|mixed", "rewritten_query": "...", "general_answer": "..."}`)

	if strict {
		b.WriteString(intentStrictSuffix)
	}

	return b.String()
}

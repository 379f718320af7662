package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/prompts"
)

// interpretUnavailable is returned when the insight LLM call fails; the
// data response still succeeds.
const interpretUnavailable = "Analysis temporarily unavailable."

// Interpreter produces the markdown summary and the visualization spec for
// an executed result set.
type Interpreter struct {
	client      llm.Client
	temperature float64
	logger      *zap.Logger
}

// NewInterpreter creates the interpretation stage.
func NewInterpreter(client llm.Client, temperature float64, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("interpreter"),
	}
}

// Interpretation is the outcome of the interpretation stage.
type Interpretation struct {
	Text string
	Viz  *VizSpec
}

// Interpret selects a visualization with the rule-based picker and writes
// the insight text. Trivial single-column listings skip the LLM call and
// report "Found N items"; an LLM failure degrades to a stock message with
// no visualization.
func (i *Interpreter) Interpret(ctx context.Context, question, sqlQuery string, columns []string, rows [][]any, totalCount int) Interpretation {
	viz := SelectViz(columns, rows)

	if isTrivialResult(columns, rows) {
		n := totalCount
		if n == datasource.CountUnknown {
			n = len(rows)
		}
		return Interpretation{Text: fmt.Sprintf("Found %d items", n), Viz: viz}
	}

	prompt := prompts.BuildInsightPrompt(question, sqlQuery, columns, rows, totalCount)
	text, err := i.client.GenerateResponse(ctx, prompt, prompts.InsightSystemMessage, i.temperature)
	if err != nil {
		i.logger.Warn("insight generation failed", zap.Error(err))
		return Interpretation{Text: interpretUnavailable, Viz: nil}
	}

	return Interpretation{Text: text, Viz: viz}
}

// prependGeneralAnswer frames a mixed-intent interpretation: the general
// knowledge answer first, then the data analysis.
func prependGeneralAnswer(generalAnswer, interpretation string) string {
	if generalAnswer == "" {
		return interpretation
	}
	return fmt.Sprintf("## Answer\n%s\n\n---\n\n%s", generalAnswer, interpretation)
}

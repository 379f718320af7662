package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/jsonutil"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/prompts"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

// intentResponse is the strict JSON shape the classifier must return.
// String fields are raw messages because models occasionally emit numbers
// or booleans where strings belong.
type intentResponse struct {
	Intent         string          `json:"intent"`
	RewrittenQuery json.RawMessage `json:"rewritten_query"`
	GeneralAnswer  json.RawMessage `json:"general_answer"`
}

// Classifier is the LLM-backed intent classification and rewriting stage.
type Classifier struct {
	client      llm.Client
	canonical   *schema.Schema
	temperature float64
	logger      *zap.Logger
}

// NewClassifier creates the intent stage.
func NewClassifier(client llm.Client, canonical *schema.Schema, temperature float64, logger *zap.Logger) *Classifier {
	return &Classifier{
		client:      client,
		canonical:   canonical,
		temperature: temperature,
		logger:      logger.Named("intent"),
	}
}

// Classification is the outcome of the intent stage.
type Classification struct {
	Intent         Intent
	RewrittenQuery string
	GeneralAnswer  string
}

// Classify determines the message intent and rewrites follow-ups into
// standalone queries using recent history. On malformed LLM output it
// retries once with a stricter prompt; after that it falls back to treating
// the raw query as sql without rewriting and returns ErrIntentParse
// alongside the fallback so the caller can log and continue.
func (c *Classifier) Classify(ctx context.Context, query string, history []prompts.HistoryEntry) (Classification, error) {
	header := c.canonical.CompactHeader()
	suggestions := c.canonical.SuggestedQueries

	parsed, err := c.call(ctx, query, history, header, suggestions, false)
	if err != nil {
		if ctx.Err() != nil {
			return Classification{}, ctx.Err()
		}
		c.logger.Warn("intent parse failed, retrying strict", zap.Error(err))
		parsed, err = c.call(ctx, query, history, header, suggestions, true)
	}
	if err != nil {
		if ctx.Err() != nil {
			return Classification{}, ctx.Err()
		}
		fallback := Classification{Intent: IntentSQL, RewrittenQuery: query}
		return fallback, fmt.Errorf("%w: %v", apperrors.ErrIntentParse, err)
	}

	out := Classification{
		Intent:         Intent(parsed.Intent),
		RewrittenQuery: jsonutil.FlexibleStringValue(parsed.RewrittenQuery),
		GeneralAnswer:  jsonutil.FlexibleStringValue(parsed.GeneralAnswer),
	}

	switch out.Intent {
	case IntentSQL, IntentGeneral, IntentMixed:
	default:
		out.Intent = IntentSQL
	}

	// rewritten_query is mandatory for sql and mixed; a model that omits
	// it gets the original query as the standalone form.
	if out.Intent != IntentGeneral && out.RewrittenQuery == "" {
		out.RewrittenQuery = query
	}

	return out, nil
}

func (c *Classifier) call(ctx context.Context, query string, history []prompts.HistoryEntry, header string, suggestions []string, strict bool) (intentResponse, error) {
	prompt := prompts.BuildIntentPrompt(query, history, header, suggestions, strict)

	response, err := c.client.GenerateResponse(ctx, prompt, prompts.IntentSystemMessage, c.temperature)
	if err != nil {
		return intentResponse{}, err
	}

	return llm.ParseJSONResponse[intentResponse](response)
}

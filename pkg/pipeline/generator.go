package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/logging"
	"github.com/askdb-ai/askdb-engine/pkg/prompts"
)

// Generator is the LLM-backed SQL generation stage.
type Generator struct {
	client      llm.Client
	temperature float64
	logger      *zap.Logger
}

// NewGenerator creates the SQL generation stage.
func NewGenerator(client llm.Client, temperature float64, logger *zap.Logger) *Generator {
	return &Generator{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("generator"),
	}
}

// Generate produces one dialect-specific SELECT for the query. lastSQL and
// lastError carry the previous failed attempt on retries.
func (g *Generator) Generate(ctx context.Context, query, schemaContext, dialect, lastSQL, lastError string) (string, error) {
	prompt := prompts.BuildSQLGenPrompt(query, schemaContext, dialect, lastSQL, lastError)

	response, err := g.client.GenerateResponse(ctx, prompt, prompts.SQLGenSystemMessage, g.temperature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrSQLGen, err)
	}

	sqlQuery := prompts.ExtractSQL(response)
	if sqlQuery == "" {
		return "", fmt.Errorf("%w: model returned no SQL", apperrors.ErrSQLGen)
	}

	g.logger.Debug("sql generated",
		zap.String("dialect", dialect),
		zap.String("sql", logging.SanitizeQuery(sqlQuery)),
		zap.Bool("retry", lastSQL != ""))
	return sqlQuery, nil
}

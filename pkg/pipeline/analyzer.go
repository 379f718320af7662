package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/config"
	"github.com/askdb-ai/askdb-engine/pkg/embeddings"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
)

// sampleRowsPerTable caps the sample values rendered per semantic table.
const sampleRowsPerTable = 3

// EstimateTokens approximates token count as length over four. This estimate
// is the budget contract; swapping in a real tokenizer would move the table
// cut-off.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Analyzer builds the LLM-ready schema context for a query: semantic top-k
// retrieval over table embeddings, then foreign-key expansion under a table
// count cap and a token budget.
type Analyzer struct {
	store     *embeddings.Store
	client    llm.Client
	canonical *schema.Schema
	cfg       config.PipelineConfig
	logger    *zap.Logger
}

// NewAnalyzer creates the schema analysis stage.
func NewAnalyzer(store *embeddings.Store, client llm.Client, canonical *schema.Schema, cfg config.PipelineConfig, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		store:     store,
		client:    client,
		canonical: canonical,
		cfg:       cfg,
		logger:    logger.Named("analyzer"),
	}
}

// Analysis is the outcome of the schema analysis stage.
type Analysis struct {
	// SemanticMatches are the top-k tables by similarity, score order.
	SemanticMatches []embeddings.Match
	// ExpandedTables is the final ordered table set: semantic matches
	// first, then FK-expanded tables.
	ExpandedTables []string
	// SchemaContext is the rendered prompt section for the generator.
	SchemaContext string
	// TokenEstimate is the estimated size of SchemaContext.
	TokenEstimate int
}

// Analyze produces the schema context for a standalone query. Deterministic
// for a fixed query, namespace, and embedding store contents.
func (a *Analyzer) Analyze(ctx context.Context, query string) (*Analysis, error) {
	vec, err := a.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := a.store.TopK(ctx, a.canonical.SchemaID, vec,
		a.cfg.MaxRelevantTables, a.cfg.SimilarityThreshold)
	if err != nil {
		return nil, err
	}

	expanded := a.expand(matches)
	context, tokens := a.render(matches, expanded)

	a.logger.Debug("schema context built",
		zap.Int("semantic", len(matches)),
		zap.Int("expanded", len(expanded)),
		zap.Int("tokens", tokens))

	return &Analysis{
		SemanticMatches: matches,
		ExpandedTables:  expanded,
		SchemaContext:   context,
		TokenEstimate:   tokens,
	}, nil
}

// embed retries once on embedding failure before giving up.
func (a *Analyzer) embed(ctx context.Context, query string) ([]float32, error) {
	vec, err := a.store.QueryEmbedding(ctx, a.client, query)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	a.logger.Warn("query embedding failed, retrying", zap.Error(err))
	vec, err = a.store.QueryEmbedding(ctx, a.client, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSchemaEmbed, err)
	}
	return vec, nil
}

// expand grows the semantic set along foreign keys: outbound edges first
// (JOIN targets), then inbound, both in score order, until the table cap.
func (a *Analyzer) expand(matches []embeddings.Match) []string {
	expanded := make([]string, 0, a.cfg.MaxExpandedTables)
	seen := make(map[string]bool)

	add := func(table string) bool {
		if seen[table] || a.canonical.Tables.Get(table) == nil {
			return len(expanded) < a.cfg.MaxExpandedTables
		}
		if len(expanded) >= a.cfg.MaxExpandedTables {
			return false
		}
		seen[table] = true
		expanded = append(expanded, table)
		return true
	}

	for _, m := range matches {
		if !add(m.Table) {
			return expanded
		}
	}
	for _, m := range matches {
		for _, t := range a.canonical.Outbound[m.Table] {
			if !add(t) {
				return expanded
			}
		}
	}
	for _, m := range matches {
		for _, t := range a.canonical.Inbound[m.Table] {
			if !add(t) {
				return expanded
			}
		}
	}

	return expanded
}

// render emits the schema context, tracking the token estimate per table and
// dropping trailing tables that would blow the budget. Semantic tables carry
// sample values; FK-expanded tables do not.
func (a *Analyzer) render(matches []embeddings.Match, expanded []string) (string, int) {
	semantic := make(map[string]bool, len(matches))
	var b strings.Builder

	b.WriteString("# Relevant tables (by similarity)\n\n")
	for _, m := range matches {
		semantic[m.Table] = true
		fmt.Fprintf(&b, "- %s (score %.2f)\n", m.Table, m.Score)
	}
	b.WriteString("\nSample values are shown only for the tables above.\n")

	tokens := EstimateTokens(b.String())
	skipped := 0

	for i, name := range expanded {
		section := a.renderTable(name, semantic[name])
		cost := EstimateTokens(section)
		if tokens+cost > a.cfg.MaxSchemaTokens {
			skipped = len(expanded) - i
			break
		}
		b.WriteString(section)
		tokens += cost
	}

	if skipped > 0 {
		a.logger.Info("schema context over budget, tables skipped",
			zap.Int("skipped", skipped),
			zap.Int("budget", a.cfg.MaxSchemaTokens))
	}

	return b.String(), tokens
}

func (a *Analyzer) renderTable(name string, withSamples bool) string {
	t := a.canonical.Tables.Get(name)
	var b strings.Builder

	fmt.Fprintf(&b, "\n## %s\n", name)
	if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}

	b.WriteString("Columns:\n")
	for _, colName := range t.Columns.Names() {
		c := t.Columns.Get(colName)
		fmt.Fprintf(&b, "- %s: %s", c.Name, c.DataType)
		if c.Description != "" {
			fmt.Fprintf(&b, " - %s", c.Description)
		}
		if withSamples && len(c.SampleValues) > 0 {
			n := len(c.SampleValues)
			if n > sampleRowsPerTable {
				n = sampleRowsPerTable
			}
			fmt.Fprintf(&b, "; samples=[%s]", strings.Join(c.SampleValues[:n], ", "))
		}
		b.WriteString("\n")
	}

	if len(t.Relationships) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range t.Relationships {
			fmt.Fprintf(&b, "- %s.%s references %s.%s\n",
				name, rel.FromColumn, rel.ReferencedTable, rel.ReferencedColumn)
		}
	}

	return b.String()
}

package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/config"
)

// Executor runs validated SQL: a capped smart count, then a bounded preview.
type Executor struct {
	adapter datasource.Adapter
	cfg     config.PipelineConfig
	logger  *zap.Logger
}

// NewExecutor creates the execution stage.
func NewExecutor(adapter datasource.Adapter, cfg config.PipelineConfig, logger *zap.Logger) *Executor {
	return &Executor{
		adapter: adapter,
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}
}

// ExecResult is the bounded outcome of one execution.
type ExecResult struct {
	Columns []string
	Rows    [][]any
	// TotalCount is exact when <= the count cap, datasource.CountUnknown
	// beyond it.
	TotalCount int
	// Truncated reports whether the preview holds fewer rows than the
	// full result set.
	Truncated bool
}

// Execute runs the smart count and the preview for one validated statement.
func (e *Executor) Execute(ctx context.Context, sqlQuery string) (*ExecResult, error) {
	total, err := e.adapter.Count(ctx, sqlQuery, e.cfg.CountCap)
	if err != nil {
		return nil, err
	}

	preview, err := e.adapter.ExecutePreview(ctx, sqlQuery, e.cfg.MaxCacheRows)
	if err != nil {
		return nil, err
	}

	truncated := total == datasource.CountUnknown || len(preview.Rows) < total

	e.logger.Debug("query executed",
		zap.Int("rows", len(preview.Rows)),
		zap.Int("total_count", total),
		zap.Bool("truncated", truncated))

	return &ExecResult{
		Columns:    preview.Columns,
		Rows:       preview.Rows,
		TotalCount: total,
		Truncated:  truncated,
	}, nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/config"
	"github.com/askdb-ai/askdb-engine/pkg/embeddings"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/logging"
	"github.com/askdb-ai/askdb-engine/pkg/prompts"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
	"github.com/askdb-ai/askdb-engine/pkg/session"
	"github.com/askdb-ai/askdb-engine/pkg/sqlcache"
	"github.com/askdb-ai/askdb-engine/pkg/sqlguard"
)

// Request is one pipeline invocation.
type Request struct {
	Query     string
	SessionID string
}

// Observer receives progressive pipeline results, used by the SSE chat
// endpoint to stream phases as they complete.
type Observer interface {
	SessionReady(sessionID string)
	SQLReady(sql string)
	DataReady(columns []string, rows [][]any, totalCount int, truncated bool)
}

type noopObserver struct{}

func (noopObserver) SessionReady(string)                   {}
func (noopObserver) SQLReady(string)                       {}
func (noopObserver) DataReady([]string, [][]any, int, bool) {}

// Deps are the shared singletons the pipeline stages run against.
type Deps struct {
	Canonical  *schema.Schema
	Adapter    datasource.Adapter
	LLM        llm.Client
	Embeddings *embeddings.Store
	SQLCache   *sqlcache.Cache
	Sessions   *session.Store
	Config     config.PipelineConfig
	// Temperature is passed to every LLM call; 0 for determinism.
	Temperature float64
	Logger      *zap.Logger
}

// Pipeline wires the stage graph: intent, cache, schema analysis, SQL
// generation, validation, execution, interpretation, with short-circuit
// edges for general intent and cache hits.
type Pipeline struct {
	canonical   *schema.Schema
	adapter     datasource.Adapter
	cache       *sqlcache.Cache
	sessions    *session.Store
	cfg         config.PipelineConfig
	classifier  *Classifier
	analyzer    *Analyzer
	generator   *Generator
	executor    *Executor
	interpreter *Interpreter
	logger      *zap.Logger
}

// New creates the pipeline and its stages.
func New(deps Deps) *Pipeline {
	logger := deps.Logger.Named("pipeline")
	return &Pipeline{
		canonical:   deps.Canonical,
		adapter:     deps.Adapter,
		cache:       deps.SQLCache,
		sessions:    deps.Sessions,
		cfg:         deps.Config,
		classifier:  NewClassifier(deps.LLM, deps.Canonical, deps.Temperature, logger),
		analyzer:    NewAnalyzer(deps.Embeddings, deps.LLM, deps.Canonical, deps.Config, logger),
		generator:   NewGenerator(deps.LLM, deps.Temperature, logger),
		executor:    NewExecutor(deps.Adapter, deps.Config, logger),
		interpreter: NewInterpreter(deps.LLM, deps.Temperature, logger),
		logger:      logger,
	}
}

// Run executes the full graph for one request, streaming phases through obs.
// The returned State always carries the effective session id; on error its
// ErrorStage and ErrorMessage name the failing stage.
func (p *Pipeline) Run(ctx context.Context, req Request, obs Observer) (*State, error) {
	if obs == nil {
		obs = noopObserver{}
	}

	st := p.start(req)
	obs.SessionReady(st.SessionID)

	if err := ctx.Err(); err != nil {
		return p.fail(st, "intent", err)
	}
	if err := p.classify(ctx, st); err != nil {
		return p.fail(st, "intent", err)
	}

	if st.Intent == IntentGeneral {
		st.Interpretation = st.GeneralAnswer
		p.sessions.AppendExchange(st.SessionID, session.Exchange{
			UserMessage: st.OriginalQuery,
			Timestamp:   time.Now(),
		})
		return st, nil
	}

	normalized := sqlcache.Normalize(st.RewrittenQuery)
	p.lookupCache(ctx, st, normalized)

	if st.CacheHitType == CacheHitNone {
		if err := p.analyze(ctx, st); err != nil {
			return p.fail(st, "schema", err)
		}
		sqlQuery, err := p.generator.Generate(ctx, st.RewrittenQuery, st.SchemaContext,
			p.adapter.Dialect(), "", "")
		if err != nil {
			return p.fail(st, "generator", err)
		}
		st.GeneratedSQL = sqlQuery
	}

	res, stage, err := p.validateAndExecute(ctx, st, obs)
	if err != nil {
		return p.fail(st, stage, err)
	}

	st.Columns = res.Columns
	st.Rows = res.Rows
	st.TotalCount = res.TotalCount
	st.Truncated = res.Truncated

	// The insight call starts now so it overlaps the persistent writes and
	// data delivery; the data event never waits on the LLM.
	question, sqlText := st.RewrittenQuery, st.GeneratedSQL
	columns, rows, total := st.Columns, st.Rows, st.TotalCount
	interpCh := make(chan Interpretation, 1)
	go func() {
		interpCh <- p.interpreter.Interpret(ctx, question, sqlText, columns, rows, total)
	}()

	// Persistent writes happen only after the stage chain succeeded, so a
	// cancelled request leaves cache and session untouched.
	if err := p.cache.Put(ctx, normalized, st.GeneratedSQL); err != nil {
		p.logger.Warn("sql cache put failed", zap.Error(err))
	}
	st.QueryID = p.sessions.PutQuery(st.SessionID, &session.QueryCacheEntry{
		SQL:           st.GeneratedSQL,
		OriginalQuery: st.RewrittenQuery,
		Rows:          st.Rows,
		Columns:       st.Columns,
		TotalCount:    st.TotalCount,
		CreatedAt:     time.Now(),
	})
	p.sessions.AppendExchange(st.SessionID, session.Exchange{
		UserMessage:  st.OriginalQuery,
		GeneratedSQL: st.GeneratedSQL,
		Timestamp:    time.Now(),
	})

	obs.DataReady(st.Columns, st.Rows, st.TotalCount, st.Truncated)

	interp := <-interpCh
	st.Interpretation = interp.Text
	st.Visualization = interp.Viz
	if st.Intent == IntentMixed {
		st.Interpretation = prependGeneralAnswer(st.GeneralAnswer, interp.Text)
	}

	return st, nil
}

// GenerateSQL runs the graph up to validation for the REST workflow: the
// returned State carries a query_id addressing the SQL for later execution,
// interpretation, and download. No database query runs here.
func (p *Pipeline) GenerateSQL(ctx context.Context, req Request) (*State, error) {
	st := p.start(req)

	if err := ctx.Err(); err != nil {
		return p.fail(st, "intent", err)
	}
	if err := p.classify(ctx, st); err != nil {
		return p.fail(st, "intent", err)
	}

	if st.Intent == IntentGeneral {
		p.sessions.AppendExchange(st.SessionID, session.Exchange{
			UserMessage: st.OriginalQuery,
			Timestamp:   time.Now(),
		})
		return st, nil
	}

	normalized := sqlcache.Normalize(st.RewrittenQuery)
	p.lookupCache(ctx, st, normalized)

	if st.CacheHitType == CacheHitNone {
		if err := p.analyze(ctx, st); err != nil {
			return p.fail(st, "schema", err)
		}
		sqlQuery, err := p.generator.Generate(ctx, st.RewrittenQuery, st.SchemaContext,
			p.adapter.Dialect(), "", "")
		if err != nil {
			return p.fail(st, "generator", err)
		}
		st.GeneratedSQL = sqlQuery
	}

	if err := p.validateWithRetries(ctx, st); err != nil {
		return p.fail(st, "validator", err)
	}

	if err := p.cache.Put(ctx, normalized, st.GeneratedSQL); err != nil {
		p.logger.Warn("sql cache put failed", zap.Error(err))
	}
	st.QueryID = p.sessions.PutQuery(st.SessionID, &session.QueryCacheEntry{
		SQL:           st.GeneratedSQL,
		OriginalQuery: st.RewrittenQuery,
		TotalCount:    datasource.CountUnknown,
		CreatedAt:     time.Now(),
	})
	p.sessions.AppendExchange(st.SessionID, session.Exchange{
		UserMessage:  st.OriginalQuery,
		GeneratedSQL: st.GeneratedSQL,
		Timestamp:    time.Now(),
	})

	return st, nil
}

// ExecuteQuery runs the SQL behind a query_id and stores the bounded result
// back on the session entry for later interpretation.
func (p *Pipeline) ExecuteQuery(ctx context.Context, queryID string) (*ExecResult, error) {
	entry := p.sessions.GetQuery(queryID)
	if entry == nil {
		return nil, fmt.Errorf("%w: query_id %q", apperrors.ErrNotFound, queryID)
	}

	res, err := p.executor.Execute(ctx, entry.SQL)
	if err != nil {
		return nil, err
	}

	p.sessions.UpdateQueryResult(queryID, res.Columns, res.Rows, res.TotalCount)
	return res, nil
}

// InterpretQuery interprets the cached rows behind a query_id. It never
// re-executes the SQL.
func (p *Pipeline) InterpretQuery(ctx context.Context, queryID string) (Interpretation, bool, error) {
	entry := p.sessions.GetQuery(queryID)
	if entry == nil {
		return Interpretation{}, false, fmt.Errorf("%w: query_id %q", apperrors.ErrNotFound, queryID)
	}

	interp := p.interpreter.Interpret(ctx, entry.OriginalQuery, entry.SQL,
		entry.Columns, entry.Rows, entry.TotalCount)
	truncated := entry.TotalCount == datasource.CountUnknown || len(entry.Rows) < entry.TotalCount
	return interp, truncated, nil
}

// StreamQuery opens an unbounded row stream for the SQL behind a query_id,
// for CSV download.
func (p *Pipeline) StreamQuery(ctx context.Context, queryID string) (datasource.RowIterator, error) {
	entry := p.sessions.GetQuery(queryID)
	if entry == nil {
		return nil, fmt.Errorf("%w: query_id %q", apperrors.ErrNotFound, queryID)
	}
	return p.adapter.ExecuteStream(ctx, entry.SQL)
}

// Feedback records a user verdict. A thumbs-down invalidates the SQL cache
// entry for the query's normalized form; embeddings and session state are
// untouched.
func (p *Pipeline) Feedback(ctx context.Context, queryID string, down bool) error {
	entry := p.sessions.GetQuery(queryID)
	if entry == nil {
		return fmt.Errorf("%w: query_id %q", apperrors.ErrNotFound, queryID)
	}
	if !down {
		return nil
	}
	return p.cache.Invalidate(ctx, sqlcache.Normalize(entry.OriginalQuery))
}

func (p *Pipeline) start(req Request) *State {
	return &State{
		OriginalQuery: req.Query,
		SessionID:     p.sessions.GetOrCreate(req.SessionID),
		CacheHitType:  CacheHitNone,
		TotalCount:    datasource.CountUnknown,
	}
}

func (p *Pipeline) classify(ctx context.Context, st *State) error {
	var history []prompts.HistoryEntry
	for _, ex := range p.sessions.RecentExchanges(st.SessionID, session.PromptHistorySize) {
		history = append(history, prompts.HistoryEntry{
			UserMessage:  ex.UserMessage,
			GeneratedSQL: ex.GeneratedSQL,
		})
	}

	cls, err := p.classifier.Classify(ctx, st.OriginalQuery, history)
	if err != nil {
		if !errors.Is(err, apperrors.ErrIntentParse) {
			return err
		}
		// Malformed output after the strict retry: proceed with the raw
		// query as sql, unrewritten.
		p.logger.Warn("intent classification fell back to raw query", zap.Error(err))
	}

	st.Intent = cls.Intent
	st.RewrittenQuery = cls.RewrittenQuery
	st.GeneralAnswer = cls.GeneralAnswer
	return nil
}

// lookupCache treats cache I/O failures as a miss.
func (p *Pipeline) lookupCache(ctx context.Context, st *State, normalized string) {
	entry, hit, err := p.cache.Get(ctx, normalized)
	if err != nil {
		p.logger.Warn("sql cache lookup failed, treating as miss", zap.Error(err))
		return
	}
	if hit {
		st.CacheHitType = CacheHitSQL
		st.GeneratedSQL = entry.GeneratedSQL
		p.logger.Debug("sql cache hit",
			zap.String("normalized_query", normalized),
			zap.Int("hit_count", entry.HitCount))
	}
}

func (p *Pipeline) analyze(ctx context.Context, st *State) error {
	analysis, err := p.analyzer.Analyze(ctx, st.RewrittenQuery)
	if err != nil {
		return err
	}
	st.RelevantTables = analysis.ExpandedTables
	st.SchemaContext = analysis.SchemaContext
	st.TokenEstimate = analysis.TokenEstimate
	return nil
}

// validateAndExecute runs the validator-executor tail with the global retry
// budget: validator rejections re-enter the generator until the budget is
// spent; a DBSyntax execution failure re-enters it once. Returns the failing
// stage name alongside the error.
func (p *Pipeline) validateAndExecute(ctx context.Context, st *State, obs Observer) (*ExecResult, string, error) {
	retries := 0
	dbSyntaxRetried := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, "validator", err
		}

		if err := sqlguard.Validate(st.GeneratedSQL); err != nil {
			st.ValidationOK = false
			st.ValidationError = err.Error()
			if retries >= p.cfg.MaxGenRetries {
				return nil, "validator", fmt.Errorf("%w: %v", apperrors.ErrSQLGen, err)
			}
			retries++
			if err := p.regenerate(ctx, st, err.Error()); err != nil {
				return nil, "generator", err
			}
			continue
		}

		st.GeneratedSQL = sqlguard.Normalize(st.GeneratedSQL)
		st.ValidationOK = true
		st.ValidationError = ""
		obs.SQLReady(st.GeneratedSQL)

		res, err := p.executor.Execute(ctx, st.GeneratedSQL)
		if err != nil {
			if errors.Is(err, apperrors.ErrDBSyntax) && !dbSyntaxRetried && retries < p.cfg.MaxGenRetries {
				dbSyntaxRetried = true
				retries++
				if err := p.regenerate(ctx, st, err.Error()); err != nil {
					return nil, "generator", err
				}
				continue
			}
			return nil, "executor", err
		}
		return res, "", nil
	}
}

// validateWithRetries is the validator-only tail used by GenerateSQL.
func (p *Pipeline) validateWithRetries(ctx context.Context, st *State) error {
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := sqlguard.Validate(st.GeneratedSQL)
		if err == nil {
			st.GeneratedSQL = sqlguard.Normalize(st.GeneratedSQL)
			st.ValidationOK = true
			st.ValidationError = ""
			return nil
		}

		st.ValidationOK = false
		st.ValidationError = err.Error()
		if retries >= p.cfg.MaxGenRetries {
			return fmt.Errorf("%w: %v", apperrors.ErrSQLGen, err)
		}
		retries++
		if err := p.regenerate(ctx, st, err.Error()); err != nil {
			return err
		}
	}
}

// regenerate re-calls the generator with the failed SQL and its error as
// repair context. A cache-hit path reaching here has no schema context yet,
// so the analyzer runs lazily first.
func (p *Pipeline) regenerate(ctx context.Context, st *State, lastError string) error {
	if st.SchemaContext == "" {
		if err := p.analyze(ctx, st); err != nil {
			return err
		}
	}

	sqlQuery, err := p.generator.Generate(ctx, st.RewrittenQuery, st.SchemaContext,
		p.adapter.Dialect(), st.GeneratedSQL, lastError)
	if err != nil {
		return err
	}
	st.GeneratedSQL = sqlQuery
	st.CacheHitType = CacheHitNone
	return nil
}

// fail records the stage and a sanitized message; DB errors can echo the
// connection string back.
func (p *Pipeline) fail(st *State, stage string, err error) (*State, error) {
	st.ErrorStage = stage
	st.ErrorMessage = logging.SanitizeError(err)
	p.logger.Warn("pipeline failed",
		zap.String("stage", stage),
		zap.String("error_code", apperrors.CodeFor(err)),
		zap.String("error", st.ErrorMessage))
	return st, err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/adapters/datasource"
	_ "github.com/askdb-ai/askdb-engine/pkg/adapters/datasource/postgres"
	_ "github.com/askdb-ai/askdb-engine/pkg/adapters/datasource/sqlite"
	"github.com/askdb-ai/askdb-engine/pkg/apperrors"
	"github.com/askdb-ai/askdb-engine/pkg/config"
	"github.com/askdb-ai/askdb-engine/pkg/embeddings"
	"github.com/askdb-ai/askdb-engine/pkg/handlers"
	"github.com/askdb-ai/askdb-engine/pkg/llm"
	"github.com/askdb-ai/askdb-engine/pkg/logging"
	"github.com/askdb-ai/askdb-engine/pkg/middleware"
	"github.com/askdb-ai/askdb-engine/pkg/pipeline"
	"github.com/askdb-ai/askdb-engine/pkg/schema"
	"github.com/askdb-ai/askdb-engine/pkg/session"
	"github.com/askdb-ai/askdb-engine/pkg/sqlcache"
)

// Version is set at build time via ldflags
var Version = "dev"

// shutdownGrace is how long in-flight requests get to finish.
const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("schema_id", cfg.SchemaID),
		zap.String("database_url", logging.SanitizeConnectionString(cfg.Database.URL)),
		zap.String("llm_model", cfg.AI.LLMModel),
		zap.String("embedding_model", cfg.AI.EmbeddingModel))

	ctx := context.Background()

	canonical, err := schema.Load(cfg.CanonicalSchemaPath)
	if err != nil {
		logger.Fatal("canonical schema load failed", zap.Error(err))
	}
	logger.Info("canonical schema loaded",
		zap.String("schema_id", canonical.SchemaID),
		zap.Int("tables", canonical.Tables.Len()))

	adapter, err := datasource.Open(ctx, datasource.Config{
		URL:            cfg.Database.URL,
		MaxConnections: cfg.Database.MaxConnections,
		QueryTimeout:   time.Duration(cfg.Database.QueryTimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer adapter.Close()

	introspection, err := adapter.Introspect(ctx)
	if err != nil {
		logger.Fatal("database introspection failed", zap.Error(err))
	}
	if err := checkDrift(canonical, introspection); err != nil {
		logger.Fatal("schema drift detected", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		logger.Fatal("cache dir creation failed", zap.Error(err))
	}

	embStore, err := embeddings.Open(filepath.Join(cfg.CacheDir, cfg.SchemaID+"_embeddings.db"), logger)
	if err != nil {
		logger.Fatal("embedding store open failed", zap.Error(err))
	}
	defer embStore.Close()

	sqlCache, err := sqlcache.Open(filepath.Join(cfg.CacheDir, cfg.SchemaID+"_sqlcache.db"), logger)
	if err != nil {
		logger.Fatal("sql cache open failed", zap.Error(err))
	}
	defer sqlCache.Close()

	sessions := session.NewStore(time.Duration(cfg.Pipeline.CacheTTLSeconds)*time.Second, logger)
	defer sessions.Close()

	llmClient, err := llm.NewClient(&llm.Config{
		Endpoint:       cfg.AI.LLMBaseURL,
		Model:          cfg.AI.LLMModel,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		APIKey:         cfg.AI.APIKey,
		Timeout:        time.Duration(cfg.AI.LLMTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("llm client init failed", zap.Error(err))
	}

	if err := ensureEmbeddings(ctx, embStore, canonical, llmClient, logger); err != nil {
		logger.Fatal("embedding bootstrap failed", zap.Error(err))
	}

	warmup(ctx, llmClient, logger)

	engine := pipeline.New(pipeline.Deps{
		Canonical:   canonical,
		Adapter:     adapter,
		LLM:         llmClient,
		Embeddings:  embStore,
		SQLCache:    sqlCache,
		Sessions:    sessions,
		Config:      cfg.Pipeline,
		Temperature: cfg.AI.Temperature,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	handlers.NewQueryHandler(engine, cfg, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(engine, cfg, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(canonical, logger).RegisterRoutes(mux)
	handlers.NewHealthHandler(cfg, sqlCache, adapter, logger).RegisterRoutes(mux)

	handler := middleware.CORS(cfg.CORSAllowedOrigins)(middleware.RequestLogger(logger)(mux))

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting askdb-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("server failed", zap.Error(err))
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

// newLogger builds a production JSON logger, or a human-readable console
// logger for local development.
func newLogger(env string) *zap.Logger {
	var logConfig zap.Config
	if env == "local" || env == "test" {
		logConfig = zap.NewDevelopmentConfig()
	} else {
		logConfig = zap.NewProductionConfig()
	}

	logger, err := logConfig.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

// checkDrift verifies every canonical table and column exists in the live
// database. Extras in the live database are fine; anything missing is fatal,
// reported as one multi-line error naming each missing entity.
func checkDrift(canonical *schema.Schema, live *datasource.Introspection) error {
	var missing []string

	for _, tableName := range canonical.Tables.Names() {
		if !live.HasTable(tableName) {
			missing = append(missing, fmt.Sprintf("table %q missing from live database", tableName))
			continue
		}
		t := canonical.Tables.Get(tableName)
		for _, colName := range t.Columns.Names() {
			if !live.HasColumn(tableName, colName) {
				missing = append(missing,
					fmt.Sprintf("column %q.%q missing from live database", tableName, colName))
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n%s", apperrors.ErrSchemaDrift, strings.Join(missing, "\n"))
}

// ensureEmbeddings rebuilds the table vectors when the store is empty or when
// the configured embedding model produces a different dimension than the
// stored vectors. A stale dimension scores every table at zero, so retrieval
// would pick tables arbitrarily.
func ensureEmbeddings(ctx context.Context, store *embeddings.Store, canonical *schema.Schema, client llm.Client, logger *zap.Logger) error {
	stored, err := store.Count(ctx, canonical.SchemaID)
	if err != nil {
		return err
	}

	var reason string
	if stored == 0 {
		reason = "store empty"
	} else {
		sample, err := client.CreateEmbedding(ctx, "dimension check")
		if err != nil {
			return fmt.Errorf("embedding model check failed: %w", err)
		}
		dim, err := store.Dim(ctx, canonical.SchemaID)
		if err != nil {
			return err
		}
		if dim != len(sample) {
			reason = fmt.Sprintf("dimension drift: stored %d, model %d", dim, len(sample))
		}
	}

	if reason == "" {
		return nil
	}
	logger.Info("rebuilding embedding store",
		zap.String("namespace", canonical.SchemaID),
		zap.String("reason", reason))
	return store.Rebuild(ctx, canonical, client)
}

// warmup primes the LLM and embedding endpoints with tiny calls so the first
// user request does not pay cold-start latency. Failures are logged, not
// fatal.
func warmup(ctx context.Context, client llm.Client, logger *zap.Logger) {
	start := time.Now()
	if _, err := client.GenerateResponse(ctx, "Reply with OK.", "You are a health probe.", 0); err != nil {
		logger.Warn("llm warmup failed", zap.Error(err))
	} else {
		logger.Info("llm warmup completed", zap.Duration("elapsed", time.Since(start)))
	}

	start = time.Now()
	if _, err := client.CreateEmbedding(ctx, "warmup"); err != nil {
		logger.Warn("embedding warmup failed", zap.Error(err))
	} else {
		logger.Info("embedding warmup completed", zap.Duration("elapsed", time.Since(start)))
	}
}

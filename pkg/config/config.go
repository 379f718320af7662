package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for askdb-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, database passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// SchemaID namespaces all embeddings and cache files for one database.
	SchemaID string `yaml:"schema_id" env:"SCHEMA_ID" env-default:"default"`

	// CanonicalSchemaPath points to the canonical schema JSON file.
	CanonicalSchemaPath string `yaml:"canonical_schema_path" env:"CANONICAL_SCHEMA_PATH" env-default:"schema.json"`

	// CacheDir holds the persistent embedding store and SQL cache files.
	CacheDir string `yaml:"cache_dir" env:"CACHE_DIR" env-default:".askdb"`

	// CORSAllowedOriginsStr is a comma-separated list of allowed origins.
	CORSAllowedOriginsStr string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:3000"`

	// CORSAllowedOrigins is the parsed list from CORSAllowedOriginsStr (not from config file).
	CORSAllowedOrigins []string `yaml:"-"`

	// Database configuration (the queried datasource, not engine metadata)
	Database DatabaseConfig `yaml:"database"`

	// AI model endpoints
	AI AIConfig `yaml:"ai"`

	// Pipeline tunables
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DatabaseConfig holds connection settings for the queried database.
type DatabaseConfig struct {
	// URL is a connection string: postgres://... for PostgreSQL, or a
	// file path (optionally file:...) for SQLite.
	URL string `yaml:"-" env:"DATABASE_URL" env-default:"askdb.db"`

	// MaxConnections sizes the read-only connection pool.
	MaxConnections int32 `yaml:"max_connections" env:"DB_MAX_CONNECTIONS" env-default:"5"`

	// QueryTimeoutSeconds bounds a single preview query.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"DB_QUERY_TIMEOUT_SECONDS" env-default:"30"`

	// ChatQueryTimeoutSeconds bounds the execution stage of the chat endpoint.
	ChatQueryTimeoutSeconds int `yaml:"chat_query_timeout_seconds" env:"DB_CHAT_QUERY_TIMEOUT_SECONDS" env-default:"45"`
}

// AIConfig holds LLM and embedding endpoint configuration.
type AIConfig struct {
	LLMBaseURL     string  `yaml:"llm_base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	LLMModel       string  `yaml:"llm_model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	EmbeddingModel string  `yaml:"embedding_model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey         string  `yaml:"-" env:"API_KEY"` // Secret - not in YAML
	Temperature    float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`

	// LLMTimeoutSeconds bounds one chat completion call.
	LLMTimeoutSeconds int `yaml:"llm_timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"60"`
}

// PipelineConfig holds limits and thresholds for the NL-to-SQL pipeline.
type PipelineConfig struct {
	MaxRelevantTables   int     `yaml:"max_relevant_tables" env:"MAX_RELEVANT_TABLES" env-default:"5"`
	MaxExpandedTables   int     `yaml:"max_expanded_tables" env:"MAX_EXPANDED_TABLES" env-default:"15"`
	MaxSchemaTokens     int     `yaml:"max_schema_tokens" env:"MAX_SCHEMA_TOKENS" env-default:"8000"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD" env-default:"0.15"`
	MaxCacheRows        int     `yaml:"max_cache_rows" env:"MAX_CACHE_ROWS" env-default:"50"`
	PreviewRows         int     `yaml:"preview_rows" env:"PREVIEW_ROWS" env-default:"50"`
	CountCap            int     `yaml:"count_cap" env:"COUNT_CAP" env-default:"1000"`
	CacheTTLSeconds     int     `yaml:"cache_ttl_seconds" env:"CACHE_TTL_SECONDS" env-default:"600"`
	CSVChunkSize        int     `yaml:"csv_chunk_size" env:"CSV_CHUNK_SIZE" env-default:"1000"`
	MaxGenRetries       int     `yaml:"max_gen_retries" env:"MAX_GEN_RETRIES" env-default:"3"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The config.yaml file is optional; when absent, environment variables and
// defaults apply. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	return cfg, nil
}

// parseComplexFields derives parsed fields from their string forms.
func (c *Config) parseComplexFields() error {
	c.CORSAllowedOrigins = nil
	for _, origin := range strings.Split(c.CORSAllowedOriginsStr, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			c.CORSAllowedOrigins = append(c.CORSAllowedOrigins, origin)
		}
	}
	if len(c.CORSAllowedOrigins) == 0 {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS must contain at least one origin")
	}

	if c.SchemaID == "" {
		return fmt.Errorf("SCHEMA_ID must not be empty")
	}

	return nil
}

// DatabaseType infers the queried database dialect from the connection URL.
func (c *DatabaseConfig) DatabaseType() string {
	if strings.HasPrefix(c.URL, "postgres://") || strings.HasPrefix(c.URL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

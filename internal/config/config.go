// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hackjpnteam/sales-ai/internal/chunk"
	collyfetcher "github.com/hackjpnteam/sales-ai/internal/fetcher/colly"
	"github.com/hackjpnteam/sales-ai/internal/llm"
	"github.com/hackjpnteam/sales-ai/internal/profile"
	"github.com/hackjpnteam/sales-ai/internal/retrieval"
	"github.com/hackjpnteam/sales-ai/internal/scheduler"
	"github.com/hackjpnteam/sales-ai/internal/storage/postgres"
)

// Storage and archive backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Profile   ProfileConfig   `mapstructure:"profile"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the plain page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	ExecPath              string `mapstructure:"exec_path"`
	RemoteURL             string `mapstructure:"remote_url"`
	RenderTimeoutSeconds  int    `mapstructure:"render_timeout_seconds"`
	ExploreTimeoutSeconds int    `mapstructure:"explore_timeout_seconds"`
	MaxClicks             int    `mapstructure:"max_clicks"`
	SPATextThreshold      int    `mapstructure:"spa_text_threshold"`
}

// CrawlConfig governs the job runner and the per-run scheduler.
type CrawlConfig struct {
	PageBudgetDefault int      `mapstructure:"page_budget_default"`
	PageBudgetMax     int      `mapstructure:"page_budget_max"`
	Parallelism       int      `mapstructure:"parallelism"`
	SufficientChunks  int      `mapstructure:"sufficient_chunks"`
	Workers           int      `mapstructure:"workers"`
	QueueDepth        int      `mapstructure:"queue_depth"`
	CriticalPaths     []string `mapstructure:"critical_paths"`
	PriorityPaths     []string `mapstructure:"priority_paths"`
}

// ChunkConfig bounds chunk size in runes.
type ChunkConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

// LLMConfig points at an OpenAI-compatible API.
type LLMConfig struct {
	APIURL           string `mapstructure:"api_url"`
	APIKey           string `mapstructure:"api_key"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
	ChatModel        string `mapstructure:"chat_model"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// RetrievalConfig tunes ranking and answer synthesis.
type RetrievalConfig struct {
	Limit             int     `mapstructure:"limit"`
	Candidates        int     `mapstructure:"candidates"`
	KnowledgeLimit    int     `mapstructure:"knowledge_limit"`
	KnowledgeBoost    float64 `mapstructure:"knowledge_boost"`
	MinScore          float64 `mapstructure:"min_score"`
	AnswerTemperature float64 `mapstructure:"answer_temperature"`
	AnswerMaxTokens   int     `mapstructure:"answer_max_tokens"`
}

// ProfileConfig bounds company-profile extraction.
type ProfileConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	MaxChunks int  `mapstructure:"max_chunks"`
	MaxChars  int  `mapstructure:"max_chars"`
	MaxTokens int  `mapstructure:"max_tokens"`
}

// StorageConfig selects the chunk/job store and the raw page archive.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// PostgresConfig controls the pgvector database.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	Dimensions   int    `mapstructure:"dimensions"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// ArchiveConfig selects where fetched HTML is kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize         int  `mapstructure:"buffer_size"`
	MaxBatch           int  `mapstructure:"max_batch"`
	FlushIntervalMs    int  `mapstructure:"flush_interval_ms"`
	SinkTimeoutSeconds int  `mapstructure:"sink_timeout_seconds"`
	LogEvents          bool `mapstructure:"log_events"`
}

// MetricsConfig toggles Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.timeout_seconds", int(collyfetcher.DefaultTimeout/time.Second))
	v.SetDefault("http.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.remote_url", "")
	v.SetDefault("headless.render_timeout_seconds", 25)
	v.SetDefault("headless.explore_timeout_seconds", 90)
	v.SetDefault("headless.max_clicks", 30)
	v.SetDefault("headless.spa_text_threshold", 100)
	v.SetDefault("crawl.page_budget_default", scheduler.DefaultPageBudget)
	v.SetDefault("crawl.page_budget_max", 500)
	v.SetDefault("crawl.parallelism", scheduler.DefaultParallelism)
	v.SetDefault("crawl.sufficient_chunks", scheduler.DefaultSufficientChunks)
	v.SetDefault("crawl.workers", 2)
	v.SetDefault("crawl.queue_depth", 64)
	v.SetDefault("chunk.max_size", chunk.DefaultMaxSize)
	v.SetDefault("llm.api_url", llm.DefaultAPIURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.chat_model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.backoff_initial_ms", 500)
	v.SetDefault("llm.backoff_max_ms", 8000)
	v.SetDefault("retrieval.limit", retrieval.DefaultLimit)
	v.SetDefault("retrieval.candidates", retrieval.DefaultCandidates)
	v.SetDefault("retrieval.knowledge_limit", retrieval.DefaultKnowledgeLimit)
	v.SetDefault("retrieval.knowledge_boost", retrieval.DefaultKnowledgeBoost)
	v.SetDefault("retrieval.min_score", retrieval.DefaultMinScore)
	v.SetDefault("retrieval.answer_temperature", retrieval.DefaultTemperature)
	v.SetDefault("retrieval.answer_max_tokens", retrieval.DefaultMaxTokens)
	v.SetDefault("profile.enabled", true)
	v.SetDefault("profile.max_chunks", profile.DefaultMaxChunks)
	v.SetDefault("profile.max_chars", profile.DefaultMaxChars)
	v.SetDefault("profile.max_tokens", profile.DefaultMaxTokens)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.dimensions", postgres.DefaultDimensions)
	v.SetDefault("storage.postgres.ensure_schema", true)
	v.SetDefault("storage.archive.backend", ArchiveNone)
	v.SetDefault("storage.archive.gcs_bucket", "")
	v.SetDefault("storage.archive.prefix", "crawls")
	v.SetDefault("storage.archive.local_dir", "data/archive")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch", 256)
	v.SetDefault("progress.flush_interval_ms", 250)
	v.SetDefault("progress.sink_timeout_seconds", 5)
	v.SetDefault("progress.log_events", true)
	v.SetDefault("metrics.enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.Crawl.Parallelism <= 0 {
		return errors.New("crawl.parallelism must be > 0")
	}
	if c.Crawl.Workers <= 0 {
		return errors.New("crawl.workers must be > 0")
	}
	if c.Crawl.PageBudgetDefault <= 0 || c.Crawl.PageBudgetMax < c.Crawl.PageBudgetDefault {
		return errors.New("crawl.page_budget_default must be > 0 and <= crawl.page_budget_max")
	}
	if c.Chunk.MaxSize <= 0 {
		return errors.New("chunk.max_size must be > 0")
	}
	if strings.TrimSpace(c.LLM.EmbeddingModel) == "" {
		return errors.New("llm.embedding_model is required")
	}
	if c.LLM.APIKey == "" && strings.TrimRight(c.LLM.APIURL, "/") == llm.DefaultAPIURL {
		return errors.New("llm.api_key is required for the hosted API")
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return errors.New("retrieval.min_score must be within [0, 1]")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Storage.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Storage.Archive.LocalDir == "" {
			return errors.New("storage.archive.local_dir is required for the local archive")
		}
	case ArchiveGCS:
		if c.Storage.Archive.GCSBucket == "" {
			return errors.New("storage.archive.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("storage.archive.backend %q is not supported", c.Storage.Archive.Backend)
	}
	return nil
}

// FetchTimeout bounds a single plain fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds one API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Package config loads and validates compintel configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Application ApplicationConfig `mapstructure:"application"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scraper     ScraperConfig     `mapstructure:"scraper"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Analyzer    AnalyzerConfig    `mapstructure:"analyzer"`
	Baseline    BaselineConfig    `mapstructure:"baseline"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Output      OutputConfig      `mapstructure:"output"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Workers     WorkersConfig     `mapstructure:"workers"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ApplicationConfig describes the running service for telemetry resources.
type ApplicationConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	Version       string `mapstructure:"version"`
	ProjectID     string `mapstructure:"project_id"`
	ProjectNumber string `mapstructure:"project_number"`
	Region        string `mapstructure:"region"`
}

// DatabaseConfig controls the PostgreSQL pool.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdle     time.Duration `mapstructure:"max_conn_idle"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// ScraperConfig governs batch scraping of tracked company URLs.
type ScraperConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
	BatchDelay    time.Duration `mapstructure:"batch_delay"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	FetchMode     string        `mapstructure:"fetch_mode"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`
	PromotionThresh int           `mapstructure:"promotion_threshold"`
}

// RateLimitConfig sets per-domain politeness.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// LLMConfig selects and tunes the language model provider.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	QuickModel        string        `mapstructure:"quick_model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	BaselineMaxTokens int           `mapstructure:"baseline_max_tokens"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// AnalyzerConfig tunes the change analyzer and its report.
type AnalyzerConfig struct {
	RecentWindow time.Duration `mapstructure:"recent_window"`
	Limit        int           `mapstructure:"limit"`
	ContentLimit int           `mapstructure:"content_limit"`
	ReportWindow time.Duration `mapstructure:"report_window"`
	ReportTop    int           `mapstructure:"report_top"`
	ModelLabel   string        `mapstructure:"model_label"`
}

// BaselineConfig tunes the one-off baseline extraction.
type BaselineConfig struct {
	ContentLimit int `mapstructure:"content_limit"`
	MinContent   int `mapstructure:"min_content"`
}

// StorageConfig selects where raw HTML snapshots are archived.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ArchiveHTML bool               `mapstructure:"archive_html"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig points the local blob store at a directory.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// OutputConfig selects where generated JSON and reports are written.
type OutputConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	ReportsPrefix string `mapstructure:"reports_prefix"`
}

// PubSubConfig holds metadata for change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CacheConfig enables the Redis-backed analysis cache.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// ProgressConfig configures the scrape progress hub.
type ProgressConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	LogEnabled        bool          `mapstructure:"log_enabled"`
	PrometheusEnabled bool          `mapstructure:"prometheus_enabled"`
	BufferSize        int           `mapstructure:"buffer_size"`
	Batch             ProgressBatch `mapstructure:"batch"`
}

// ProgressBatch bounds how events are grouped before reaching sinks.
type ProgressBatch struct {
	MaxEvents int           `mapstructure:"max_events"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
}

// ScheduleConfig holds cron expressions for unattended runs.
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Pipeline string `mapstructure:"pipeline"`
	Baseline string `mapstructure:"baseline"`
}

// QueueConfig sizes the in-memory job queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	Count      int           `mapstructure:"count"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// Load builds a Config from an optional .env file, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("COMPINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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
	if cfg.LLM.QuickModel == "" {
		cfg.LLM.QuickModel = cfg.LLM.Model
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv keeps the variable names used by existing deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"llm.api_key":  {"COMPINTEL_LLM_API_KEY", "GROQ_API_KEY"},
		"database.dsn": {"COMPINTEL_DATABASE_DSN", "POSTGRES_CONNECTION_STRING", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("application.service_name", "compintel")
	v.SetDefault("application.version", "dev")

	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.max_conn_idle", 30*time.Second)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("scraper.batch_size", 5)
	v.SetDefault("scraper.page_timeout", 30*time.Second)
	v.SetDefault("scraper.batch_delay", 500*time.Millisecond)
	v.SetDefault("scraper.max_retries", 2)
	v.SetDefault("scraper.retry_delay", 2*time.Second)
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (compatible; compintel/1.0)")
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("scraper.fetch_mode", "http")
	v.SetDefault("scraper.max_body_bytes", 5<<20)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", 30*time.Second)
	v.SetDefault("headless.promotion_threshold", 200)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 2)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.baseline_max_tokens", 8000)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.base_delay", 5*time.Second)
	v.SetDefault("llm.max_delay", time.Minute)
	v.SetDefault("llm.timeout", 2*time.Minute)

	v.SetDefault("analyzer.recent_window", 24*time.Hour)
	v.SetDefault("analyzer.limit", 500)
	v.SetDefault("analyzer.content_limit", 15000)
	v.SetDefault("analyzer.report_window", 7*24*time.Hour)
	v.SetDefault("analyzer.report_top", 20)
	v.SetDefault("analyzer.model_label", "groq-llama-3.3-70b")

	v.SetDefault("baseline.content_limit", 30000)
	v.SetDefault("baseline.min_content", 100)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local.base_dir", "./data/snapshots")

	v.SetDefault("output.backend", "local")
	v.SetDefault("output.dir", "./data/static")
	v.SetDefault("output.reports_prefix", "reports")

	v.SetDefault("cache.ttl", 30*24*time.Hour)

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.prometheus_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait", time.Second)

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.pipeline", "0 */6 * * *")
	v.SetDefault("schedule.baseline", "")

	v.SetDefault("queue.depth", 16)
	v.SetDefault("workers.count", 1)
	v.SetDefault("workers.job_timeout", 2*time.Hour)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scraper.BatchSize <= 0 {
		return fmt.Errorf("scraper.batch_size must be > 0")
	}
	if c.Scraper.PageTimeout <= 0 {
		return fmt.Errorf("scraper.page_timeout must be > 0")
	}
	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("scraper.max_retries must be >= 0")
	}
	switch c.Scraper.FetchMode {
	case "http", "headless", "auto":
	default:
		return fmt.Errorf("scraper.fetch_mode must be one of http, headless, auto (got %q)", c.Scraper.FetchMode)
	}
	if c.Scraper.FetchMode != "http" && !c.Headless.Enabled {
		return fmt.Errorf("headless.enabled must be true when scraper.fetch_mode is %q", c.Scraper.FetchMode)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.LLM.Provider {
	case "groq", "anthropic", "gemini":
	default:
		return fmt.Errorf("llm.provider must be one of groq, anthropic, gemini (got %q)", c.LLM.Provider)
	}
	if c.LLM.MaxRetries <= 0 {
		return fmt.Errorf("llm.max_retries must be > 0")
	}
	if c.Analyzer.Limit <= 0 {
		return fmt.Errorf("analyzer.limit must be > 0")
	}
	if c.Analyzer.ContentLimit <= 0 {
		return fmt.Errorf("analyzer.content_limit must be > 0")
	}
	if c.Baseline.ContentLimit <= 0 {
		return fmt.Errorf("baseline.content_limit must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs (got %q)", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for the gcs backend")
	}
	switch c.Output.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("output.backend must be one of memory, local, gcs (got %q)", c.Output.Backend)
	}
	if c.Output.Backend == "gcs" && c.Output.Bucket == "" {
		return fmt.Errorf("output.bucket must be set for the gcs backend")
	}
	if c.Output.Backend == "local" && c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set for the local backend")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is configured")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	return nil
}

// RequireDatabase reports an error when no DSN is configured.
func (c Config) RequireDatabase() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set (or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

// RequireLLM reports an error when the selected provider has no key.
func (c Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key must be set (or GROQ_API_KEY) for provider %s", c.LLM.Provider)
	}
	return nil
}

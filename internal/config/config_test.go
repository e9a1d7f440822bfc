package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5, cfg.Scraper.BatchSize)
	require.Equal(t, 30*time.Second, cfg.Scraper.PageTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.Scraper.BatchDelay)
	require.Equal(t, 2, cfg.Scraper.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.Scraper.RetryDelay)
	require.Equal(t, "groq", cfg.LLM.Provider)
	require.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
	require.Equal(t, cfg.LLM.Model, cfg.LLM.QuickModel)
	require.Equal(t, 3, cfg.LLM.MaxRetries)
	require.Equal(t, 5*time.Second, cfg.LLM.BaseDelay)
	require.Equal(t, 15000, cfg.Analyzer.ContentLimit)
	require.Equal(t, 30000, cfg.Baseline.ContentLimit)
	require.EqualValues(t, 20, cfg.Database.MaxConns)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scraper:
  batch_size: 3
  page_timeout: 10s
  fetch_mode: auto
headless:
  enabled: true
  max_parallel: 4
llm:
  provider: anthropic
  api_key: sk-test
  model: claude-test
  quick_model: claude-quick
output:
  backend: gcs
  bucket: dashboards
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 3, cfg.Scraper.BatchSize)
	require.Equal(t, 10*time.Second, cfg.Scraper.PageTimeout)
	require.Equal(t, "auto", cfg.Scraper.FetchMode)
	require.Equal(t, 4, cfg.Headless.MaxParallel)
	require.Equal(t, "anthropic", cfg.LLM.Provider)
	require.Equal(t, "claude-quick", cfg.LLM.QuickModel)
	require.Equal(t, "dashboards", cfg.Output.Bucket)
	require.False(t, cfg.Logging.Development)
	require.NoError(t, cfg.RequireLLM())
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-legacy")
	t.Setenv("POSTGRES_CONNECTION_STRING", "postgres://localhost/compintel")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "gsk-legacy", cfg.LLM.APIKey)
	require.Equal(t, "postgres://localhost/compintel", cfg.Database.DSN)
	require.NoError(t, cfg.RequireDatabase())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Scraper:  ScraperConfig{BatchSize: 5, PageTimeout: time.Second, FetchMode: "http"},
		LLM:      LLMConfig{Provider: "groq", MaxRetries: 3},
		Analyzer: AnalyzerConfig{Limit: 10, ContentLimit: 100},
		Baseline: BaselineConfig{ContentLimit: 100},
		Storage:  StorageConfig{Backend: "memory"},
		Output:   OutputConfig{Backend: "memory"},
		Queue:    QueueConfig{Depth: 1},
		Workers:  WorkersConfig{Count: 1},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "zero batch size", mutate: func(c *Config) { c.Scraper.BatchSize = 0 }, want: "scraper.batch_size"},
		{name: "unknown fetch mode", mutate: func(c *Config) { c.Scraper.FetchMode = "ftp" }, want: "scraper.fetch_mode"},
		{name: "headless mode without renderer", mutate: func(c *Config) { c.Scraper.FetchMode = "headless" }, want: "headless.enabled"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "openai" }, want: "llm.provider"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.bucket"},
		{name: "local output without dir", mutate: func(c *Config) { c.Output.Backend = "local" }, want: "output.dir"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "changes" }, want: "pubsub.project_id"},
		{name: "no workers", mutate: func(c *Config) { c.Workers.Count = 0 }, want: "workers.count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}

func TestRequireHelpers(t *testing.T) {
	t.Parallel()

	var cfg Config
	require.ErrorContains(t, cfg.RequireDatabase(), "database.dsn")
	cfg.LLM.Provider = "groq"
	require.ErrorContains(t, cfg.RequireLLM(), "llm.api_key")
}

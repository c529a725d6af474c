package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for rem-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Embedding provider configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Background embedding worker tuning
	Worker WorkerConfig `yaml:"worker"`

	// MigrationsPath is the directory holding SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// RebuildIndexOnStart regenerates the entity index from the source
	// collections during startup. Cheap for moderate datasets; disable for
	// very large ones and trigger rebuilds explicitly instead.
	RebuildIndexOnStart bool `yaml:"rebuild_index_on_start" env:"REBUILD_INDEX_ON_START" env-default:"true"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"rem"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"rem_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// EmbeddingConfig holds the embedding provider settings. The endpoint must
// be OpenAI-compatible; an empty endpoint uses the OpenAI API directly.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" env:"EMBEDDING_PROVIDER" env-default:"openai"`
	Endpoint  string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT" env-default:""`
	Model     string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Dimension int    `yaml:"dimension" env:"EMBEDDING_DIMENSION" env-default:"1536"`
	APIKey    string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
}

// WorkerConfig holds embedding worker tuning.
type WorkerConfig struct {
	// Enabled starts the background worker with the server. Disable when a
	// separate worker deployment drains the queue.
	Enabled bool `yaml:"enabled" env:"WORKER_ENABLED" env-default:"true"`
	// BatchSize bounds how many queue items are claimed per provider call.
	BatchSize int `yaml:"batch_size" env:"WORKER_BATCH_SIZE" env-default:"32"`
	// PollIntervalSeconds is the idle delay between queue polls.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"WORKER_POLL_INTERVAL_SECONDS" env-default:"2"`
	// ClaimTimeoutMinutes is how long a claim holds before the item becomes
	// reclaimable by another worker.
	ClaimTimeoutMinutes int `yaml:"claim_timeout_minutes" env:"WORKER_CLAIM_TIMEOUT_MINUTES" env-default:"5"`
}

// PollInterval returns the poll interval as a duration.
func (w *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// ClaimTimeout returns the claim timeout as a duration.
func (w *WorkerConfig) ClaimTimeout() time.Duration {
	return time.Duration(w.ClaimTimeoutMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable
// overrides. When no config.yaml exists, configuration comes from the
// environment alone. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Embedding.Provider == "" {
		return fmt.Errorf("embedding provider name must not be empty")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model must not be empty")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch size must be positive, got %d", c.Worker.BatchSize)
	}
	return nil
}

// Package config loads scantrail configuration.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for scantrail.
// Configuration can come from YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values.
// Secrets (database password, storage keys) must only come from
// environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Blob storage configuration (MinIO / S3-compatible)
	Storage StorageConfig `yaml:"storage"`

	// Ingestion pipeline limits and batch sizes
	Ingest IngestConfig `yaml:"ingest"`

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"scantrail"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"scantrail"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// StorageConfig holds MinIO blob store configuration.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" env:"STORAGE_ENDPOINT" env-default:"localhost:9000"`
	Region    string `yaml:"region" env:"STORAGE_REGION" env-default:""`
	Bucket    string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:"scan-archives"`
	AccessKey string `yaml:"-" env:"STORAGE_ACCESS_KEY"` // Secret - not in YAML
	SecretKey string `yaml:"-" env:"STORAGE_SECRET_KEY"` // Secret - not in YAML
	UseSSL    bool   `yaml:"use_ssl" env:"STORAGE_USE_SSL" env-default:"false"`
}

// IngestConfig holds pipeline ceilings and batch sizes. The ceilings
// bound memory and disk use per job; the batch sizes keep bulk
// statements under backend parameter-count limits.
type IngestConfig struct {
	// WorkDir is the parent directory for per-job extraction
	// workspaces. Empty means the OS temp directory.
	WorkDir string `yaml:"work_dir" env:"INGEST_WORK_DIR" env-default:""`

	// MaxArchiveBytes caps an archive's uncompressed size.
	MaxArchiveBytes int64 `yaml:"max_archive_bytes" env:"INGEST_MAX_ARCHIVE_BYTES" env-default:"536870912"`

	// MaxArchiveEntries caps the number of entries in an archive.
	MaxArchiveEntries int `yaml:"max_archive_entries" env:"INGEST_MAX_ARCHIVE_ENTRIES" env-default:"10000"`

	// MaxFindings caps the number of export rows read per scan.
	MaxFindings int `yaml:"max_findings" env:"INGEST_MAX_FINDINGS" env-default:"100000"`

	// IssueInsertBatchSize bounds unique-issue bulk inserts and the
	// natural-key re-query that resolves their generated ids.
	IssueInsertBatchSize int `yaml:"issue_insert_batch_size" env:"INGEST_ISSUE_INSERT_BATCH_SIZE" env-default:"500"`

	// OccurrenceInsertBatchSize bounds occurrence bulk inserts.
	OccurrenceInsertBatchSize int `yaml:"occurrence_insert_batch_size" env:"INGEST_OCCURRENCE_INSERT_BATCH_SIZE" env-default:"1000"`

	// LastSeenBatchSize bounds batched last-seen timestamp updates.
	LastSeenBatchSize int `yaml:"last_seen_batch_size" env:"INGEST_LAST_SEEN_BATCH_SIZE" env-default:"5000"`

	// Workers is the number of concurrent ingestion jobs.
	Workers int `yaml:"workers" env:"INGEST_WORKERS" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set
// on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Ingest.validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest configuration: %w", err)
	}

	return cfg, nil
}

func (c *IngestConfig) validate() error {
	if c.MaxArchiveBytes <= 0 {
		return fmt.Errorf("max_archive_bytes must be positive, got %d", c.MaxArchiveBytes)
	}
	if c.MaxArchiveEntries <= 0 {
		return fmt.Errorf("max_archive_entries must be positive, got %d", c.MaxArchiveEntries)
	}
	if c.MaxFindings <= 0 {
		return fmt.Errorf("max_findings must be positive, got %d", c.MaxFindings)
	}
	if c.IssueInsertBatchSize <= 0 || c.OccurrenceInsertBatchSize <= 0 || c.LastSeenBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

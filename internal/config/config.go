// Package config provides unified configuration for all pipeline jobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for all pipeline jobs. It is
// loaded once at process start and passed by value into constructors;
// nothing mutates it afterward.
type Config struct {
	// Warehouse holds analytics warehouse connection settings
	Warehouse WarehouseConfig `json:"warehouse" yaml:"warehouse"`

	// AWS holds explicit cloud credentials; empty fields fall back to
	// the ambient provider chain
	AWS AWSConfig `json:"aws" yaml:"aws"`

	// Storage holds object storage settings for raw event partitions
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Import holds raw partition source prefixes per event family
	Import ImportConfig `json:"import" yaml:"import"`

	// Export holds vendor export publisher settings
	Export ExportConfig `json:"export" yaml:"export"`
}

// ImportConfig names the object-storage prefixes each import job reads
// its raw partitions from.
type ImportConfig struct {
	// ActivityPrefix holds activity event partitions
	ActivityPrefix string `json:"activity_prefix" yaml:"activity_prefix"`

	// FlowPrefix holds flow event partitions
	FlowPrefix string `json:"flow_prefix" yaml:"flow_prefix"`

	// EmailPrefix holds email event partitions
	EmailPrefix string `json:"email_prefix" yaml:"email_prefix"`

	// CountsPrefix holds daily account-count partitions
	CountsPrefix string `json:"counts_prefix" yaml:"counts_prefix"`

	// LegacyContextCutoff is the day before which flow metadata gets the
	// metrics-context backfill pass. Data emitted since then carries its
	// context on the begin event.
	LegacyContextCutoff string `json:"legacy_context_cutoff" yaml:"legacy_context_cutoff"`
}

// WarehouseConfig holds warehouse connection settings. Path selects an
// embedded database file; the db_* fields describe a served warehouse
// and are folded into the DSN when Path is empty.
type WarehouseConfig struct {
	// Path is the embedded database location
	Path string `json:"path" yaml:"path"`

	// Host is the warehouse server host
	Host string `json:"db_host" yaml:"db_host"`

	// Port is the warehouse server port
	Port int `json:"db_port" yaml:"db_port"`

	// Username is the warehouse user
	Username string `json:"db_username" yaml:"db_username"`

	// Password is the warehouse password
	Password string `json:"db_password" yaml:"db_password"`

	// Name is the warehouse database name
	Name string `json:"db_name" yaml:"db_name"`

	// MemoryLimit caps warehouse memory use, e.g. "4GB" (optional)
	MemoryLimit string `json:"memory_limit" yaml:"memory_limit"`
}

// AWSConfig holds explicit AWS credentials.
type AWSConfig struct {
	// AccessKeyID is the explicit access key (optional)
	AccessKeyID string `json:"aws_access_key_id" yaml:"aws_access_key_id"`

	// SecretAccessKey is the explicit secret key (optional)
	SecretAccessKey string `json:"aws_secret_access_key" yaml:"aws_secret_access_key"`

	// Region is the AWS region for credential and S3 calls
	Region string `json:"region" yaml:"region"`
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	// Bucket is the S3 bucket holding raw event partitions
	Bucket string `json:"bucket" yaml:"bucket"`

	// Endpoint is an optional custom endpoint (MinIO, LocalStack)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// ExportConfig holds vendor export publisher settings.
type ExportConfig struct {
	// Endpoint is the vendor HTTP API endpoint
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is the object prefix holding exported event files
	Prefix string `json:"prefix" yaml:"prefix"`

	// Workers is the number of publisher worker goroutines
	Workers int `json:"workers" yaml:"workers"`

	// MaxEventsPerSecond is the global publish cap shared across workers
	MaxEventsPerSecond int `json:"max_events_per_second" yaml:"max_events_per_second"`

	// BatchSize is the maximum events per upload request
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// MaxAttempts is the retry ceiling for a single upload
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// SpoolDir is the directory for downloaded partition spool files
	SpoolDir string `json:"spool_dir" yaml:"spool_dir"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Warehouse: WarehouseConfig{
			Path: "./data/warehouse.db",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Storage: StorageConfig{},
		Import: ImportConfig{
			ActivityPrefix:      "data/events",
			FlowPrefix:          "data/flow",
			EmailPrefix:         "data/email-events",
			CountsPrefix:        "data/counts",
			LegacyContextCutoff: "2016-10-25",
		},
		Export: ExportConfig{
			Endpoint:           "https://api.amplitude.com/httpapi",
			Prefix:             "vendor-export/data/",
			Workers:            5,
			MaxEventsPerSecond: 1000,
			BatchSize:          10,
			MaxAttempts:        10,
		},
	}
}

// DSN returns the warehouse connection string: the embedded database
// path when set, otherwise a host-qualified URI for a served warehouse.
func (w WarehouseConfig) DSN() string {
	if w.Path != "" {
		return w.Path
	}
	return fmt.Sprintf("%s:%d/%s", w.Host, w.Port, w.Name)
}

// Resolve fills derived defaults.
func (c *Config) Resolve() {
	if c.Export.SpoolDir == "" {
		c.Export.SpoolDir = os.TempDir()
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Warehouse.Path == "" && (c.Warehouse.Host == "" || c.Warehouse.Name == "") {
		return fmt.Errorf("warehouse requires either path or db_host+db_name")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fmt.Errorf("aws credentials must set both key id and secret, or neither")
	}
	if c.Export.Workers < 1 {
		return fmt.Errorf("export.workers must be at least 1, got %d", c.Export.Workers)
	}
	if c.Export.BatchSize < 1 {
		return fmt.Errorf("export.batch_size must be at least 1, got %d", c.Export.BatchSize)
	}
	if c.Export.MaxEventsPerSecond < c.Export.Workers {
		return fmt.Errorf("export.max_events_per_second must cover at least one event per worker")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides configuration from environment variables.
// Environment variables use the PIPELINE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PIPELINE_WAREHOUSE_PATH"); v != "" {
		cfg.Warehouse.Path = v
	}
	if v := os.Getenv("PIPELINE_DB_HOST"); v != "" {
		cfg.Warehouse.Host = v
	}
	if v := os.Getenv("PIPELINE_DB_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Warehouse.Port)
	}
	if v := os.Getenv("PIPELINE_DB_USERNAME"); v != "" {
		cfg.Warehouse.Username = v
	}
	if v := os.Getenv("PIPELINE_DB_PASSWORD"); v != "" {
		cfg.Warehouse.Password = v
	}
	if v := os.Getenv("PIPELINE_DB_NAME"); v != "" {
		cfg.Warehouse.Name = v
	}

	if v := os.Getenv("PIPELINE_AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("PIPELINE_AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("PIPELINE_AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}

	if v := os.Getenv("PIPELINE_S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("PIPELINE_S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}

	if v := os.Getenv("PIPELINE_EXPORT_ENDPOINT"); v != "" {
		cfg.Export.Endpoint = v
	}
	if v := os.Getenv("PIPELINE_EXPORT_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Export.Workers)
	}
	if v := os.Getenv("PIPELINE_EXPORT_MAX_EVENTS_PER_SECOND"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Export.MaxEventsPerSecond)
	}
}

// Load reads the config file named by PIPELINE_CONFIG (default
// config.yaml), applies environment overrides, resolves derived
// defaults, and validates the result.
func Load() (*Config, error) {
	path := os.Getenv("PIPELINE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}

	var cfg *Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = DefaultConfig()
	}

	LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

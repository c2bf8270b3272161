package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Storage.Bucket = "events-bucket"
	return cfg
}

func TestDefaultConfig_ExportTuning(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Export.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Export.Workers)
	}
	if cfg.Export.MaxEventsPerSecond != 1000 {
		t.Errorf("MaxEventsPerSecond = %d, want 1000", cfg.Export.MaxEventsPerSecond)
	}
	if cfg.Export.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.Export.BatchSize)
	}
	if cfg.Export.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", cfg.Export.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_MissingBucket(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing storage bucket")
	}
}

func TestValidate_MissingWarehouse(t *testing.T) {
	cfg := validConfig()
	cfg.Warehouse = WarehouseConfig{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty warehouse config")
	}
}

func TestValidate_HalfCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.AWS.AccessKeyID = "AKIA123"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when only one credential half is set")
	}
}

func TestWarehouseDSN(t *testing.T) {
	w := WarehouseConfig{Path: "/data/warehouse.db", Host: "wh.example.com", Port: 5439, Name: "events"}
	if got := w.DSN(); got != "/data/warehouse.db" {
		t.Errorf("DSN with path = %q", got)
	}
	w.Path = ""
	if got := w.DSN(); got != "wh.example.com:5439/events" {
		t.Errorf("DSN without path = %q", got)
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
warehouse:
  path: /tmp/wh.db
storage:
  bucket: raw-events
aws:
  aws_access_key_id: AKIAEXAMPLE
  aws_secret_access_key: secret
export:
  workers: 3
  max_events_per_second: 600
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Warehouse.Path != "/tmp/wh.db" {
		t.Errorf("Warehouse.Path = %q", cfg.Warehouse.Path)
	}
	if cfg.Storage.Bucket != "raw-events" {
		t.Errorf("Storage.Bucket = %q", cfg.Storage.Bucket)
	}
	if cfg.AWS.AccessKeyID != "AKIAEXAMPLE" {
		t.Errorf("AWS.AccessKeyID = %q", cfg.AWS.AccessKeyID)
	}
	if cfg.Export.Workers != 3 || cfg.Export.MaxEventsPerSecond != 600 {
		t.Errorf("export overrides not applied: %+v", cfg.Export)
	}
	// Untouched fields keep defaults.
	if cfg.Export.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want default 10", cfg.Export.BatchSize)
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PIPELINE_DB_HOST", "wh.internal")
	t.Setenv("PIPELINE_DB_PORT", "5439")
	t.Setenv("PIPELINE_S3_BUCKET", "env-bucket")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Warehouse.Host != "wh.internal" || cfg.Warehouse.Port != 5439 {
		t.Errorf("warehouse env overrides not applied: %+v", cfg.Warehouse)
	}
	if cfg.Storage.Bucket != "env-bucket" {
		t.Errorf("Storage.Bucket = %q", cfg.Storage.Bucket)
	}
}

func TestResolve_SpoolDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if cfg.Export.SpoolDir == "" {
		t.Error("Resolve should default the spool dir")
	}
}

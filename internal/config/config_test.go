package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("Port = %v, want 8080", cfg.HTTP.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Backend = %v, want memory", cfg.Store.Backend)
	}
	if cfg.Fees.Percentage != "0.05" {
		t.Errorf("Fee percentage = %v, want 0.05", cfg.Fees.Percentage)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ESCROWD_HTTP_PORT", "9090")
	t.Setenv("ESCROWD_STORE_BACKEND", "sqlite")
	t.Setenv("ESCROWD_SQLITE_PATH", "/tmp/test.db")
	t.Setenv("ESCROWD_HTTP_READ_TIMEOUT", "30s")
	t.Setenv("ESCROWD_LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("Port = %v, want 9090", cfg.HTTP.Port)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.SQLitePath != "/tmp/test.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.HTTP.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want 30s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Format = %v, want json", cfg.Logging.Format)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrowd.yaml")
	body := []byte("http:\n  port: 7070\nfees:\n  percentage: \"0.10\"\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("ESCROWD_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 7070 {
		t.Errorf("Port = %v, want 7070 from file", cfg.HTTP.Port)
	}
	if cfg.Fees.Percentage != "0.10" {
		t.Errorf("Fee percentage = %v, want 0.10 from file", cfg.Fees.Percentage)
	}
	// Environment still wins over the file.
	t.Setenv("ESCROWD_HTTP_PORT", "7071")
	cfg, _ = Load()
	if cfg.HTTP.Port != 7071 {
		t.Errorf("Port = %v, want env override 7071", cfg.HTTP.Port)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("ESCROWD_HTTP_PORT", "not-a-port")
	if _, err := Load(); err == nil {
		t.Error("Load() expected error for bad port")
	}

	t.Setenv("ESCROWD_HTTP_PORT", "8080")
	t.Setenv("ESCROWD_STORE_BACKEND", "oracle")
	if _, err := Load(); err == nil {
		t.Error("Load() expected error for unsupported backend")
	}
}

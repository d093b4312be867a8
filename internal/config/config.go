// Package config loads application configuration from the environment, with
// an optional YAML file providing overrides for deployments that prefer a
// checked-in config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Store   StoreConfig   `yaml:"store"`
	Notify  NotifyConfig  `yaml:"notify"`
	Fees    FeesConfig    `yaml:"fees"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// NotifyConfig configures the notification transport. An empty NATSURL
// falls back to log-only delivery.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// FeesConfig holds the platform fee fraction, e.g. 0.05 for 5%.
type FeesConfig struct {
	Percentage string `yaml:"percentage"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStoreBackend    = "memory"
	defaultSQLitePath      = "escrowd.db"
	defaultFeePercentage   = "0.05"
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"
)

// Load builds the configuration: defaults, then the YAML file named by
// ESCROWD_CONFIG (if set), then environment variables on top.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:            defaultHost,
			Port:            defaultPort,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Store: StoreConfig{
			Backend:    defaultStoreBackend,
			SQLitePath: defaultSQLitePath,
		},
		Fees: FeesConfig{
			Percentage: defaultFeePercentage,
		},
		Logging: LoggingConfig{
			Level:  defaultLoggingLevel,
			Format: defaultLoggingFormat,
		},
	}

	if path := os.Getenv("ESCROWD_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.HTTP.Host = valueOrDefault("ESCROWD_HTTP_HOST", cfg.HTTP.Host)
	port, err := parsePort("ESCROWD_HTTP_PORT", cfg.HTTP.Port)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"ESCROWD_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"ESCROWD_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"ESCROWD_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"ESCROWD_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
	} {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	cfg.Store.Backend = valueOrDefault("ESCROWD_STORE_BACKEND", cfg.Store.Backend)
	if cfg.Store.Backend != "memory" && cfg.Store.Backend != "sqlite" {
		return Config{}, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
	cfg.Store.SQLitePath = valueOrDefault("ESCROWD_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Notify.NATSURL = valueOrDefault("ESCROWD_NATS_URL", cfg.Notify.NATSURL)
	cfg.Fees.Percentage = valueOrDefault("ESCROWD_FEE_PERCENTAGE", cfg.Fees.Percentage)
	cfg.Logging.Level = valueOrDefault("ESCROWD_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = valueOrDefault("ESCROWD_LOG_FORMAT", cfg.Logging.Format)

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}

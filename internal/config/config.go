// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Logging   LoggingConfig    `yaml:"logging"`
	Sync      SyncConfig       `yaml:"sync"`
	Match     MatchConfig      `yaml:"match"`
	Events    EventsConfig     `yaml:"events"`
	Providers []ProviderConfig `yaml:"providers"`
	Webhooks  []WebhookConfig  `yaml:"webhooks"`
}

// DatabaseConfig holds SQLite settings for the library and cache databases.
type DatabaseConfig struct {
	LibraryPath string `yaml:"library_path"`
	CachePath   string `yaml:"cache_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// SyncConfig controls the periodic library sync.
type SyncConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	Concurrency     int `yaml:"concurrency"`
}

// MatchConfig controls cross-provider matching.
type MatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// EventsConfig controls the in-process event bus.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ProviderConfig describes one configured provider instance. RateLimit is
// requests per second; zero means unthrottled. ShareLimitWith points at
// another instance whose limiter this instance should reuse.
type ProviderConfig struct {
	Domain         string  `yaml:"domain"`
	Instance       string  `yaml:"instance"`
	RateLimit      float64 `yaml:"rate_limit"`
	Burst          int     `yaml:"burst"`
	ShareLimitWith string  `yaml:"share_limit_with"`
}

// WebhookConfig describes one HTTP endpoint receiving library events.
// An empty Events list subscribes the endpoint to every event type.
type WebhookConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			LibraryPath: "/data/harmonia.db",
			CachePath:   "/data/harmonia-cache.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sync: SyncConfig{
			IntervalMinutes: 180,
			Concurrency:     4,
		},
		Match: MatchConfig{
			Concurrency: 2,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("HM_DB_PATH"); v != "" {
		c.Database.LibraryPath = v
	}
	if v := os.Getenv("HM_CACHE_DB_PATH"); v != "" {
		c.Database.CachePath = v
	}
	if v := os.Getenv("HM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("HM_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("HM_SYNC_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.IntervalMinutes = n
		}
	}
	if v := os.Getenv("HM_SYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.Concurrency = n
		}
	}
	if v := os.Getenv("HM_MATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Match.Concurrency = n
		}
	}
}

func (c *Config) validate() error {
	if c.Database.LibraryPath == "" {
		return fmt.Errorf("database library path is required")
	}
	if c.Database.CachePath == "" {
		return fmt.Errorf("database cache path is required")
	}
	if c.Sync.IntervalMinutes < 0 {
		return fmt.Errorf("invalid sync interval: %d", c.Sync.IntervalMinutes)
	}
	if c.Sync.Concurrency < 1 {
		c.Sync.Concurrency = 1
	}
	if c.Match.Concurrency < 1 {
		c.Match.Concurrency = 1
	}
	if c.Events.BufferSize < 1 {
		c.Events.BufferSize = 256
	}
	for _, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %q has no url", w.Name)
		}
	}
	return nil
}

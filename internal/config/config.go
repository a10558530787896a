// Package config loads ariabot's YAML configuration file and applies
// environment overrides and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the bot credentials and the user lists that gate
// command authorization and notification delivery.
type TelegramConfig struct {
	Token           string  `yaml:"token"`
	APIBaseURL      string  `yaml:"api_base_url"`
	AuthorizedUsers []int64 `yaml:"authorized_users"`
	NotifyUsers     []int64 `yaml:"notify_users"`
}

// Aria2Config addresses the download engine's JSON-RPC endpoint.
type Aria2Config struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"`
}

// DatabaseConfig points at the history store and its retention bound.
type DatabaseConfig struct {
	Path       string `yaml:"path"`
	MaxHistory int    `yaml:"max_history"`
}

// PaginationConfig governs how many records a single page view holds.
type PaginationConfig struct {
	ItemsPerPage int `yaml:"items_per_page"`
}

// LoggingConfig selects the slog level and whether logs also go to stdout.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Quiet bool   `yaml:"quiet"`
}

// NotificationConfig governs the C5 reconciler cadence.
type NotificationConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// MonitorConfig governs the C4 task monitor loop.
type MonitorConfig struct {
	IntervalSeconds      int `yaml:"interval_seconds"`
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`
}

// DigestConfig governs the optional daily summary cron job.
type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CronExpr string `yaml:"cron_expr"`
}

// TelemetryConfig controls the OpenTelemetry provider. Disabled (the
// default) yields a no-op tracer and meter.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "otlp-http", "stdout", "none"
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Config is the top-level structure unmarshaled from config.yaml.
type Config struct {
	HomeDir string `yaml:"-"`

	Telegram     TelegramConfig     `yaml:"telegram"`
	Aria2        Aria2Config        `yaml:"aria2"`
	Database     DatabaseConfig     `yaml:"database"`
	Pagination   PaginationConfig   `yaml:"pagination"`
	Logging      LoggingConfig      `yaml:"logging"`
	Notification NotificationConfig `yaml:"notification"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Digest       DigestConfig       `yaml:"digest"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`

	NeedsGenesis bool `yaml:"-"`
}

// Aria2BaseURL returns the JSON-RPC endpoint the engine client dials.
func (c Config) Aria2BaseURL() string {
	return fmt.Sprintf("http://%s:%d/jsonrpc", c.Aria2.Host, c.Aria2.Port)
}

// MonitorInterval returns the C4 tick period.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// NotificationInterval returns the C5 tick period.
func (c Config) NotificationInterval() time.Duration {
	return time.Duration(c.Notification.IntervalSeconds) * time.Second
}

// HomeDirDefault resolves the data/log directory, honoring ARIABOT_HOME.
func HomeDirDefault() string {
	if override := os.Getenv("ARIABOT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ariabot")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the resolved home directory, applies env
// overrides, fills defaults, and validates the result.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDirDefault()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create ariabot home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return cfg, validate(&cfg)
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path:       "history.db",
			MaxHistory: 1000,
		},
		Pagination: PaginationConfig{ItemsPerPage: 8},
		Logging:    LoggingConfig{Level: "info"},
		Notification: NotificationConfig{
			Enabled:         true,
			IntervalSeconds: 30,
		},
		Monitor: MonitorConfig{
			IntervalSeconds:      5,
			MaxConcurrentFetches: 8,
		},
		Digest: DigestConfig{
			Enabled:  false,
			CronExpr: "0 9 * * *",
		},
		Aria2: Aria2Config{
			Host: "localhost",
			Port: 6800,
		},
	}
}

// applyDefaults floors zero-value fields the way the rest of the ariabot
// config does: only where the user's YAML omitted them entirely, since
// yaml.Unmarshal leaves absent keys at their zero value.
func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "history.db"
	}
	if !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(cfg.HomeDir, cfg.Database.Path)
	}
	if cfg.Database.MaxHistory <= 0 {
		cfg.Database.MaxHistory = 1000
	}
	if cfg.Pagination.ItemsPerPage <= 0 {
		cfg.Pagination.ItemsPerPage = 8
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Notification.IntervalSeconds <= 0 {
		cfg.Notification.IntervalSeconds = 30
	}
	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 5
	}
	if cfg.Monitor.MaxConcurrentFetches <= 0 {
		cfg.Monitor.MaxConcurrentFetches = 8
	}
	if cfg.Digest.CronExpr == "" {
		cfg.Digest.CronExpr = "0 9 * * *"
	}
	if cfg.Aria2.Host == "" {
		cfg.Aria2.Host = "localhost"
	}
	if cfg.Aria2.Port == 0 {
		cfg.Aria2.Port = 6800
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ariabot"
	}
	if cfg.Telemetry.SampleRate <= 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

func validate(cfg *Config) error {
	if cfg.NeedsGenesis {
		return nil
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if len(cfg.Telegram.AuthorizedUsers) == 0 {
		return fmt.Errorf("telegram.authorized_users must list at least one user id")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TELEGRAM_API_BASE"); raw != "" {
		cfg.Telegram.APIBaseURL = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
	}
	if raw := os.Getenv("ARIA2_SECRET"); raw != "" {
		cfg.Aria2.Secret = raw
	}
	if raw := os.Getenv("ARIABOT_LOG_LEVEL"); raw != "" {
		cfg.Logging.Level = raw
	}
}

// Package config provides configuration for the presence monitor.
// Priority: environment > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/corvase/sinfarwatch/internal/appinfo"
)

// Environment variable names for config overrides.
const (
	EnvHost         = "SINFARWATCH_HOST"
	EnvPort         = "SINFARWATCH_PORT"
	EnvFeedURL      = "SINFARWATCH_FEED_URL"
	EnvPollInterval = "SINFARWATCH_POLL_INTERVAL"
	EnvGapThreshold = "SINFARWATCH_GAP_THRESHOLD"
	EnvDataDir      = "SINFARWATCH_DATA_DIR"
	EnvKeepAliveURL = "SINFARWATCH_KEEPALIVE_URL"
	EnvLogLevel     = "SINFARWATCH_LOG_LEVEL"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Storage   StorageConfig   `mapstructure:"storage"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FeedConfig configures the game server endpoints.
type FeedConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	BioRetries        int           `mapstructure:"bio_retries"`
	KeepAliveURL      string        `mapstructure:"keepalive_url"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

// MonitorConfig holds the presence-tracking tunables. The source
// history never converged on fixed values for these, so all of them
// are configuration rather than constants.
type MonitorConfig struct {
	// PollInterval is the fixed delay between update cycles.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// GapThreshold is the maximum quit-to-join gap treated as one
	// continuous session.
	GapThreshold time.Duration `mapstructure:"gap_threshold"`

	// StartupGapSlack widens the threshold during the first cycle
	// after start, tolerating clock drift from a prior crash.
	StartupGapSlack time.Duration `mapstructure:"startup_gap_slack"`

	// BackupInterval is how often open sessions are checkpointed to
	// the store, bounding data loss on crash.
	BackupInterval time.Duration `mapstructure:"backup_interval"`

	// EvictionDelay is how long a player stays cached after going
	// fully offline.
	EvictionDelay time.Duration `mapstructure:"eviction_delay"`
}

// StorageConfig configures durable storage paths.
type StorageConfig struct {
	DataDir               string `mapstructure:"data_dir"`
	DatabasePath          string `mapstructure:"database_path"`
	PlayerSnapshotPath    string `mapstructure:"player_snapshot_path"`
	CharacterSnapshotPath string `mapstructure:"character_snapshot_path"`
}

// RateLimitConfig configures the per-IP limiter on the HTTP surface.
type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Feed: FeedConfig{
			BaseURL:           "http://nwn.sinfar.net",
			Timeout:           30 * time.Second,
			BioRetries:        3,
			KeepAliveInterval: 25 * time.Minute,
		},
		Monitor: MonitorConfig{
			PollInterval:    15 * time.Second,
			GapThreshold:    10 * time.Minute,
			StartupGapSlack: 2 * time.Minute,
			BackupInterval:  30 * time.Minute,
			EvictionDelay:   time.Hour,
		},
		Storage: StorageConfig{},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			CleanupInterval:   5 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML config
// file, and environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/sinfarwatch/")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		if err := viper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("error unmarshalling config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := resolvePaths(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv(EnvHost); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv(EnvPort); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if u := os.Getenv(EnvFeedURL); u != "" {
		cfg.Feed.BaseURL = u
	}
	if d := os.Getenv(EnvPollInterval); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Monitor.PollInterval = v
		}
	}
	if d := os.Getenv(EnvGapThreshold); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Monitor.GapThreshold = v
		}
	}
	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if u := os.Getenv(EnvKeepAliveURL); u != "" {
		cfg.Feed.KeepAliveURL = u
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
}

// resolvePaths fills in storage paths relative to the data directory.
func resolvePaths(cfg *Config) error {
	if cfg.Storage.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return err
		}
		cfg.Storage.DataDir = dir
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, appinfo.DatabaseFileName)
	}
	if cfg.Storage.PlayerSnapshotPath == "" {
		cfg.Storage.PlayerSnapshotPath = filepath.Join(cfg.Storage.DataDir, appinfo.PlayerSnapshotFileName)
	}
	if cfg.Storage.CharacterSnapshotPath == "" {
		cfg.Storage.CharacterSnapshotPath = filepath.Join(cfg.Storage.DataDir, appinfo.CharacterSnapshotFileName)
	}
	return nil
}

// Validate rejects configurations the monitor cannot run with.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Feed.BaseURL == "" {
		return fmt.Errorf("feed base URL is required")
	}
	if cfg.Monitor.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if cfg.Monitor.GapThreshold <= 0 {
		return fmt.Errorf("gap threshold must be positive")
	}
	if cfg.Monitor.StartupGapSlack < 0 {
		return fmt.Errorf("startup gap slack must not be negative")
	}
	if cfg.Monitor.BackupInterval <= 0 {
		return fmt.Errorf("backup interval must be positive")
	}
	if cfg.Monitor.EvictionDelay <= 0 {
		return fmt.Errorf("eviction delay must be positive")
	}
	return nil
}

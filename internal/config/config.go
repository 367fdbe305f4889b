// Package config loads and validates application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openledger/banksync/internal/common"
)

// Config holds everything the application needs to run. Values come from the
// config file, BANKSYNC_* environment variables, and flags, in ascending
// precedence.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AggregatorConfig holds upstream API credentials and client tuning.
type AggregatorConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RateLimit    int           `mapstructure:"rate_limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// WebhookConfig tunes the receiver and its worker pool.
type WebhookConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Source     string `mapstructure:"source"`
	Workers    int    `mapstructure:"workers"`
	QueueDepth int    `mapstructure:"queue_depth"`
	RetryLimit int    `mapstructure:"retry_limit"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	OverlapDays     int           `mapstructure:"overlap_days"`
	FallbackDays    int           `mapstructure:"fallback_days"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	LockLeaseTTL    time.Duration `mapstructure:"lock_lease_ttl"`
	LockMaxWait     time.Duration `mapstructure:"lock_max_wait"`
	CategoryRefresh time.Duration `mapstructure:"category_refresh"`
}

// VaultConfig holds the credential encryption key.
type VaultConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers default values on the given viper instance. Call
// before ReadInConfig so file values win over defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/banksync/banksync.db")
	v.SetDefault("aggregator.rate_limit", 10)
	v.SetDefault("aggregator.timeout", 30*time.Second)
	v.SetDefault("webhook.listen_addr", ":8484")
	v.SetDefault("webhook.source", "openfinance")
	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.queue_depth", 256)
	v.SetDefault("webhook.retry_limit", 3)
	v.SetDefault("sync.overlap_days", 3)
	v.SetDefault("sync.fallback_days", 30)
	v.SetDefault("sync.stale_after", 12*time.Hour)
	v.SetDefault("sync.sweep_interval", 15*time.Minute)
	v.SetDefault("sync.lock_lease_ttl", 45*time.Second)
	v.SetDefault("sync.lock_max_wait", 10*time.Second)
	v.SetDefault("sync.category_refresh", time.Hour)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load unmarshals the viper state into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that everything needed to talk to the aggregator and to
// encrypt credentials is present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required: %w", common.ErrMissingConfig)
	}
	if c.Aggregator.BaseURL == "" {
		return fmt.Errorf("aggregator.base_url is required: %w", common.ErrMissingConfig)
	}
	if c.Aggregator.ClientID == "" || c.Aggregator.ClientSecret == "" {
		return fmt.Errorf("aggregator credentials are required: %w", common.ErrMissingConfig)
	}
	if c.Aggregator.RateLimit <= 0 {
		return fmt.Errorf("aggregator.rate_limit must be positive: %w", common.ErrInvalidConfig)
	}
	if c.Vault.MasterKey == "" {
		return fmt.Errorf("vault.master_key is required: %w", common.ErrMissingConfig)
	}
	if len(c.Vault.MasterKey) < 16 {
		return fmt.Errorf("vault.master_key must be at least 16 bytes: %w", common.ErrInvalidConfig)
	}
	if c.Webhook.Workers <= 0 {
		return fmt.Errorf("webhook.workers must be positive: %w", common.ErrInvalidConfig)
	}
	return nil
}

// ExpandPath expands a leading ~ and $VAR environment references in a path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}

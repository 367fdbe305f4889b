package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/config"
)

// newViper returns a viper instance with defaults and the minimum required
// values set.
func newViper() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("aggregator.base_url", "https://api.example.com")
	v.Set("aggregator.client_id", "client-id")
	v.Set("aggregator.client_secret", "client-secret")
	v.Set("vault.master_key", "0123456789abcdef0123456789abcdef")
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Aggregator.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Aggregator.Timeout)
	assert.Equal(t, ":8484", cfg.Webhook.ListenAddr)
	assert.Equal(t, "openfinance", cfg.Webhook.Source)
	assert.Equal(t, 4, cfg.Webhook.Workers)
	assert.Equal(t, 3, cfg.Sync.OverlapDays)
	assert.Equal(t, 30, cfg.Sync.FallbackDays)
	assert.Equal(t, 45*time.Second, cfg.Sync.LockLeaseTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Database.Path)
}

func TestLoadOverrides(t *testing.T) {
	v := newViper()
	v.Set("webhook.workers", 8)
	v.Set("sync.sweep_interval", "5m")

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Webhook.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Sync.SweepInterval)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr error
	}{
		{
			name:    "missing base url",
			mutate:  func(v *viper.Viper) { v.Set("aggregator.base_url", "") },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "missing client secret",
			mutate:  func(v *viper.Viper) { v.Set("aggregator.client_secret", "") },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "missing master key",
			mutate:  func(v *viper.Viper) { v.Set("vault.master_key", "") },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "short master key",
			mutate:  func(v *viper.Viper) { v.Set("vault.master_key", "too-short") },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "zero rate limit",
			mutate:  func(v *viper.Viper) { v.Set("aggregator.rate_limit", 0) },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "zero workers",
			mutate:  func(v *viper.Viper) { v.Set("webhook.workers", 0) },
			wantErr: common.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			tt.mutate(v)

			_, err := config.Load(v)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data", "banksync.db"), config.ExpandPath("~/data/banksync.db"))
	assert.Equal(t, home, config.ExpandPath("~"))
	assert.Equal(t, "/var/lib/banksync.db", config.ExpandPath("/var/lib/banksync.db"))
	assert.Empty(t, config.ExpandPath(""))

	t.Setenv("BANKSYNC_TEST_DIR", "/srv/banksync")
	assert.Equal(t, "/srv/banksync/db", config.ExpandPath("$BANKSYNC_TEST_DIR/db"))
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
subgraph:
  url: https://example.test/subgraph
database:
  timescale:
    host: localhost
    port: 5433
    name: eigen
    user: eigen
    password: secret
stream:
  page_size: 250
  poll_interval: 5s
  refetch_window: 15m
coinbase:
  url: wss://ws-feed.example.test
  channels: [matches, heartbeat]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-streamer", cfg.Instance.ID)
	assert.Equal(t, "https://example.test/subgraph", cfg.Subgraph.URL)
	assert.Equal(t, 5433, cfg.Database.Timescale.Port)
	assert.Equal(t, 250, cfg.Stream.PageSize)
	assert.Equal(t, 5*time.Second, cfg.Stream.PollInterval)
	assert.Equal(t, 15*time.Minute, cfg.Stream.RefetchWindow)
	assert.Equal(t, []string{"matches", "heartbeat"}, cfg.Coinbase.Channels)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-streamer
database:
  timescale:
    host: localhost
    name: eigen
    user: eigen
    password: ${TEST_DB_PASSWORD}
`
	cfg, err := Load(writeTempFile(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "secret123", cfg.Database.Timescale.Password)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv(EnvPageSize, "100")
	t.Setenv(EnvLookbackDays, "30")
	t.Setenv(EnvBootstrapMaxPages, "7")
	t.Setenv(EnvBucketSec, "60")
	t.Setenv(EnvRefetchSec, "120")
	t.Setenv(EnvPollMillis, "1500")
	t.Setenv(EnvSubgraphURL, "https://override.test")
	t.Setenv(EnvSubgraphAPIKey, "gateway-key")
	t.Setenv(EnvTimescaleURL, "postgres://u:p@db:5432/eigen")
	t.Setenv(EnvRedisURL, "redis:6379")
	t.Setenv(EnvRedisTTLSeconds, "42")
	t.Setenv(EnvSourceURL, "wss://feed.test")

	cfg, err := LoadWithDefaults(writeTempFile(t, "stream:\n  page_size: 999\n"))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Stream.PageSize)
	assert.Equal(t, 30*24*time.Hour, cfg.Stream.BootstrapLookback)
	assert.Equal(t, 7, cfg.Stream.BootstrapMaxPages)
	assert.Equal(t, 60*time.Second, cfg.Stream.BucketWidth)
	assert.Equal(t, 2*time.Minute, cfg.Stream.RefetchWindow)
	assert.Equal(t, 1500*time.Millisecond, cfg.Stream.PollInterval)
	assert.Equal(t, "https://override.test", cfg.Subgraph.URL)
	assert.Equal(t, "gateway-key", cfg.Subgraph.APIKey)
	assert.Equal(t, "postgres://u:p@db:5432/eigen", cfg.Database.Timescale.URL)
	assert.True(t, cfg.Database.Timescale.Enabled())
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 42*time.Second, cfg.Redis.TTL)
	assert.Equal(t, "wss://feed.test", cfg.Coinbase.URL)
}

func TestLoadBadEnvInt(t *testing.T) {
	t.Setenv(EnvPageSize, "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvPageSize)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := LoadWithDefaults("")
	require.NoError(t, err)

	assert.Equal(t, DefaultInstanceID, cfg.Instance.ID)
	assert.Equal(t, DefaultPageSize, cfg.Stream.PageSize)
	assert.Equal(t, DefaultBootstrapLookback, cfg.Stream.BootstrapLookback)
	assert.Equal(t, DefaultBootstrapMaxPages, cfg.Stream.BootstrapMaxPages)
	assert.Equal(t, DefaultRefetchWindow, cfg.Stream.RefetchWindow)
	assert.Equal(t, DefaultBucketWidth, cfg.Stream.BucketWidth)
	assert.Equal(t, DefaultPollInterval, cfg.Stream.PollInterval)
	assert.Equal(t, DefaultReconnectDelay, cfg.Coinbase.ReconnectDelay)
	assert.Equal(t, DefaultControlBuffer, cfg.Coinbase.ControlBuffer)
	assert.Equal(t, DefaultPingTimeout, cfg.Coinbase.PingTimeout)
	assert.Equal(t, []string{"matches"}, cfg.Coinbase.Channels)
	assert.Equal(t, DefaultDBPort, cfg.Database.Timescale.Port)
	assert.False(t, cfg.Database.Timescale.Enabled())
	assert.True(t, cfg.Metrics.On())
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: `log.level "loud" is not one of debug, info, warn, error`,
		},
		{
			name:    "page size too large",
			mutate:  func(c *Config) { c.Stream.PageSize = 5000 },
			wantErr: "stream.page_size must be between 1 and 1000, got 5000",
		},
		{
			name:    "window shorter than bucket",
			mutate:  func(c *Config) { c.Stream.Window = time.Minute },
			wantErr: "stream.window (1m0s) cannot be shorter than stream.bucket_width (5m0s)",
		},
		{
			name:    "negative bucket",
			mutate:  func(c *Config) { c.Stream.BucketWidth = -time.Second },
			wantErr: "stream.bucket_width must be > 0",
		},
		{
			name:    "timescale missing name",
			mutate:  func(c *Config) { c.Database.Timescale.Host = "localhost" },
			wantErr: "database.timescale.name is required",
		},
		{
			name: "timescale min exceeds max",
			mutate: func(c *Config) {
				c.Database.Timescale.URL = "postgres://localhost/eigen"
				c.Database.Timescale.MinConns = 20
			},
			wantErr: "database.timescale.min_conns (20) cannot exceed max_conns (10)",
		},
		{
			name:    "metrics path",
			mutate:  func(c *Config) { c.Metrics.Path = "metrics" },
			wantErr: `metrics.path must start with /, got "metrics"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	lvl, err = ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestMetricsOn(t *testing.T) {
	off := false
	assert.False(t, MetricsConfig{Enabled: &off}.On())
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

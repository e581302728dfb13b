package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.Quota.DailyMax)
	require.Equal(t, "America/New_York", cfg.Quota.Timezone)
	require.Equal(t, 14*time.Minute, cfg.Job.Timeout)
	require.Equal(t, 120*time.Second, cfg.Job.HeartbeatInterval)
	require.Equal(t, 3, cfg.Worker.RetryLimit)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Quota.DailyMax)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parlayscout.yaml")
	body := `
quota:
  daily_max: 5
  timezone: America/Chicago
job:
  timeout: 10m
worker:
  model: gemini-3-pro-preview
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Quota.DailyMax)
	require.Equal(t, "America/Chicago", cfg.Quota.Timezone)
	require.Equal(t, 10*time.Minute, cfg.Job.Timeout)
	require.Equal(t, "gemini-3-pro-preview", cfg.Worker.Model)
	// Untouched sections keep their defaults.
	require.Equal(t, 120*time.Second, cfg.Job.HeartbeatInterval)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parlayscout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quota:\n  daily_max: 5\n"), 0o644))

	t.Setenv("PARLAYSCOUT_DAILY_MAX", "7")
	t.Setenv("PARLAYSCOUT_JOB_TIMEOUT", "5m")
	t.Setenv("PARLAYSCOUT_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("PARLAYSCOUT_RETRY_LIMIT", "2")
	t.Setenv("PARLAYSCOUT_DB", "/tmp/other.db")
	t.Setenv("GEMINI_API_KEY", "gk-test")
	t.Setenv("SPORTSDATA_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Quota.DailyMax)
	require.Equal(t, 5*time.Minute, cfg.Job.Timeout)
	require.Equal(t, 30*time.Second, cfg.Job.HeartbeatInterval)
	require.Equal(t, 2, cfg.Worker.RetryLimit)
	require.Equal(t, "/tmp/other.db", cfg.Quota.DatabasePath)
	require.Equal(t, "gk-test", cfg.Worker.APIKey)
	require.Equal(t, "sk-test", cfg.Sports.APIKey)
}

func TestMalformedEnvValueIgnored(t *testing.T) {
	t.Setenv("PARLAYSCOUT_DAILY_MAX", "lots")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Quota.DailyMax)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero_daily_max", func(c *Config) { c.Quota.DailyMax = 0 }},
		{"zero_timeout", func(c *Config) { c.Job.Timeout = 0 }},
		{"zero_heartbeat", func(c *Config) { c.Job.HeartbeatInterval = 0 }},
		{"zero_retries", func(c *Config) { c.Worker.RetryLimit = 0 }},
		{"bad_timezone", func(c *Config) { c.Quota.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quota: [not a map"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

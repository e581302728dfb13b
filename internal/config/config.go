// Package config holds all parlayscout configuration.
// Values come from defaults, an optional yaml file, then environment
// overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all parlayscout configuration.
type Config struct {
	// Quota controls the daily per-user admission cap.
	Quota QuotaConfig `yaml:"quota"`

	// Job controls orchestrator timing.
	Job JobConfig `yaml:"job"`

	// Worker configures the research model call.
	Worker WorkerConfig `yaml:"worker"`

	// Sports configures the sports data client.
	Sports SportsConfig `yaml:"sports"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// QuotaConfig configures the quota ledger.
type QuotaConfig struct {
	// DailyMax is the number of successful jobs a user may complete per
	// reference day. Failed and timed-out jobs never count.
	DailyMax int `yaml:"daily_max"`

	// DatabasePath is the sqlite file backing the ledger.
	DatabasePath string `yaml:"database_path"`

	// Timezone buckets quota counts into calendar days (IANA name).
	Timezone string `yaml:"timezone"`
}

// JobConfig configures job orchestration.
type JobConfig struct {
	// Timeout is the hard overall budget for one job.
	Timeout time.Duration `yaml:"timeout"`

	// HeartbeatInterval is the cadence of Running status emissions.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// WorkerConfig configures the research worker.
type WorkerConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	RetryLimit int    `yaml:"retry_limit"`

	// InitialBackoff doubles per attempt; a small per-attempt jitter is
	// added on top.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// SportsConfig configures the SportsDataIO client.
type SportsConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Quota: QuotaConfig{
			DailyMax:     3,
			DatabasePath: "data/quota.db",
			Timezone:     "America/New_York",
		},
		Job: JobConfig{
			Timeout:           14 * time.Minute,
			HeartbeatInterval: 120 * time.Second,
		},
		Worker: WorkerConfig{
			Model:          "gemini-3-flash-preview",
			RetryLimit:     3,
			InitialBackoff: time.Second,
		},
		Sports: SportsConfig{
			BaseURL: "https://api.sportsdata.io",
			Timeout: 20 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, merged over defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Worker.APIKey = key
	}
	if key := os.Getenv("SPORTSDATA_API_KEY"); key != "" {
		c.Sports.APIKey = key
	}
	if path := os.Getenv("PARLAYSCOUT_DB"); path != "" {
		c.Quota.DatabasePath = path
	}
	if tz := os.Getenv("PARLAYSCOUT_TIMEZONE"); tz != "" {
		c.Quota.Timezone = tz
	}
	if v := os.Getenv("PARLAYSCOUT_DAILY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quota.DailyMax = n
		}
	}
	if v := os.Getenv("PARLAYSCOUT_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Job.Timeout = d
		}
	}
	if v := os.Getenv("PARLAYSCOUT_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Job.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("PARLAYSCOUT_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.RetryLimit = n
		}
	}
}

// Validate checks that configured values are usable.
func (c *Config) Validate() error {
	if c.Quota.DailyMax < 1 {
		return fmt.Errorf("quota.daily_max must be >= 1")
	}
	if c.Job.Timeout <= 0 {
		return fmt.Errorf("job.timeout must be positive")
	}
	if c.Job.HeartbeatInterval <= 0 {
		return fmt.Errorf("job.heartbeat_interval must be positive")
	}
	if c.Worker.RetryLimit < 1 {
		return fmt.Errorf("worker.retry_limit must be >= 1")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	return nil
}

package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Queue       QueueConfig   `toml:"queue"`
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
	Scan        ScanConfig    `toml:"scan"`
	Dedupe      DedupeConfig  `toml:"dedupe"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s" - how often worker slots poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent job slots
	VisibilityTimeout string `toml:"visibility_timeout"` // Per-job lease; must exceed worst-case probe runtime
	MaxReceive        int    `toml:"max_receive"`        // Max deliveries before a message is dead-lettered
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
	StartsPerMinute   int    `toml:"starts_per_minute"`  // Job-start rate cap over a rolling 60s window
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ScanConfig controls the orchestration engine
type ScanConfig struct {
	ProbeTimeout   string `toml:"probe_timeout"`   // Per-probe deadline, e.g. "30m"
	StaleAfter     string `toml:"stale_after"`     // Running-for-longer-than-this jobs are swept to failed
	SweepSchedule  string `toml:"sweep_schedule"`  // Cron expression for the periodic stuck-job sweep
	PersistRetries int    `toml:"persist_retries"` // Attempts for durable progress/status writes
}

// DedupeConfig carries extra title-alias rules merged over the built-in
// canonicalization table. Keys and values are matched case-insensitively.
type DedupeConfig struct {
	Aliases map[string]string `toml:"aliases"`
}

// DefaultConfig returns the baseline configuration before file and env
// overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       3,
			VisibilityTimeout: "35m",
			MaxReceive:        3,
			QueueName:         "vigil_scans",
			StartsPerMinute:   10,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/vigil",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Scan: ScanConfig{
			ProbeTimeout:   "30m",
			StaleAfter:     "45m",
			SweepSchedule:  "@every 5m",
			PersistRetries: 3,
		},
		Dedupe: DedupeConfig{},
	}
}

// LoadConfig loads configuration in priority order: defaults, then each
// file in order (later files override earlier ones), then environment
// variables.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VIGIL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIGIL_BADGER_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("VIGIL_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
}

// Validate checks duration fields and bounds so bad config fails at
// startup rather than mid-scan.
func (c *Config) Validate() error {
	for name, val := range map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"scan.probe_timeout":       c.Scan.ProbeTimeout,
		"scan.stale_after":         c.Scan.StaleAfter,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, val)
		}
	}

	visibility, _ := time.ParseDuration(c.Queue.VisibilityTimeout)
	probeTimeout, _ := time.ParseDuration(c.Scan.ProbeTimeout)
	if visibility < probeTimeout {
		return fmt.Errorf("queue.visibility_timeout (%s) must cover scan.probe_timeout (%s)",
			c.Queue.VisibilityTimeout, c.Scan.ProbeTimeout)
	}

	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive")
	}
	if c.Queue.StartsPerMinute <= 0 {
		return fmt.Errorf("queue.starts_per_minute must be positive")
	}
	if c.Scan.PersistRetries <= 0 {
		return fmt.Errorf("scan.persist_retries must be positive")
	}

	return nil
}

// PollIntervalDuration returns the parsed queue poll interval
func (c *Config) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Queue.PollInterval)
	return d
}

// VisibilityTimeoutDuration returns the parsed queue visibility timeout
func (c *Config) VisibilityTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Queue.VisibilityTimeout)
	return d
}

// ProbeTimeoutDuration returns the parsed per-probe deadline
func (c *Config) ProbeTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Scan.ProbeTimeout)
	return d
}

// StaleAfterDuration returns the parsed stuck-job staleness threshold
func (c *Config) StaleAfterDuration() time.Duration {
	d, _ := time.ParseDuration(c.Scan.StaleAfter)
	return d
}

// Package config loads the bot's YAML configuration and applies environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvGroupID  = "VKBOT_GROUP_ID"
	EnvLogLevel = "VKBOT_LOG_LEVEL"
)

// MaxWait is the largest long-poll wait VK accepts, in seconds.
const MaxWait = 90

type Config struct {
	// GroupID is the community id. Zero resolves it from the token.
	GroupID  int64          `yaml:"group_id"`
	API      APIConfig      `yaml:"api"`
	LongPoll LongPollConfig `yaml:"long_poll"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type APIConfig struct {
	URL     string `yaml:"url"`
	Version string `yaml:"version"`
}

type LongPollConfig struct {
	// Wait is in seconds.
	Wait    int           `yaml:"wait"`
	Backoff BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     bool          `yaml:"jitter"`
}

type DispatchConfig struct {
	// MaxInFlight bounds concurrent handlers. Zero means unbounded.
	MaxInFlight int `yaml:"max_in_flight"`
	// ShutdownGrace is how long shutdown waits for running handlers.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval is how often metrics are written to stderr.
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		API: APIConfig{
			URL:     "https://api.vk.com/method",
			Version: "5.199",
		},
		LongPoll: LongPollConfig{
			Wait: 25,
			Backoff: BackoffConfig{
				Initial:    time.Second,
				Max:        30 * time.Second,
				Multiplier: 2,
				Jitter:     true,
			},
		},
		Dispatch: DispatchConfig{
			ShutdownGrace: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Interval: time.Minute,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvGroupID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGroupID, err)
		}
		c.GroupID = id
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.GroupID < 0 {
		errs = append(errs, fmt.Errorf("group_id must not be negative"))
	}
	if c.API.URL == "" {
		errs = append(errs, fmt.Errorf("api.url is required"))
	}
	if c.API.Version == "" {
		errs = append(errs, fmt.Errorf("api.version is required"))
	}
	if c.LongPoll.Wait < 1 || c.LongPoll.Wait > MaxWait {
		errs = append(errs, fmt.Errorf("long_poll.wait must be between 1 and %d, got %d", MaxWait, c.LongPoll.Wait))
	}
	b := c.LongPoll.Backoff
	if b.Initial <= 0 {
		errs = append(errs, fmt.Errorf("long_poll.backoff.initial must be positive"))
	}
	if b.Max < b.Initial {
		errs = append(errs, fmt.Errorf("long_poll.backoff.max must be at least initial"))
	}
	if b.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("long_poll.backoff.multiplier must be at least 1"))
	}
	if c.Dispatch.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_in_flight must not be negative"))
	}
	if c.Dispatch.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("dispatch.shutdown_grace must not be negative"))
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.interval must be positive"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel parses a slog level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

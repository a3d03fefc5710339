package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vkbot.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvGroupID, "")
	t.Setenv(EnvLogLevel, "")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LongPoll.Wait != 25 {
		t.Errorf("wait = %d, want 25", cfg.LongPoll.Wait)
	}
	if cfg.API.Version != "5.199" {
		t.Errorf("version = %q", cfg.API.Version)
	}
	if cfg.LongPoll.Backoff.Initial != time.Second || cfg.LongPoll.Backoff.Max != 30*time.Second {
		t.Errorf("backoff = %+v", cfg.LongPoll.Backoff)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadFileKeepsUnsetDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
group_id: 12345
long_poll:
  wait: 60
  backoff:
    initial: 500ms
    max: 10s
dispatch:
  max_in_flight: 32
log:
  format: json
metrics:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GroupID != 12345 {
		t.Errorf("group_id = %d", cfg.GroupID)
	}
	if cfg.LongPoll.Wait != 60 {
		t.Errorf("wait = %d", cfg.LongPoll.Wait)
	}
	if cfg.LongPoll.Backoff.Initial != 500*time.Millisecond || cfg.LongPoll.Backoff.Max != 10*time.Second {
		t.Errorf("backoff = %+v", cfg.LongPoll.Backoff)
	}
	// Not in the file, so the default survives.
	if cfg.LongPoll.Backoff.Multiplier != 2 {
		t.Errorf("multiplier = %v, want 2", cfg.LongPoll.Backoff.Multiplier)
	}
	if cfg.API.URL != "https://api.vk.com/method" {
		t.Errorf("api.url = %q", cfg.API.URL)
	}
	if cfg.Dispatch.MaxInFlight != 32 || !cfg.Metrics.Enabled || cfg.Log.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvGroupID, "777")
	t.Setenv(EnvLogLevel, "debug")
	path := writeConfig(t, "group_id: 1\nlog:\n  level: warn\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GroupID != 777 {
		t.Errorf("group_id = %d, want 777", cfg.GroupID)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadBadEnvGroupID(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvGroupID, "club1")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), EnvGroupID) {
		t.Fatalf("err = %v, want %s error", err, EnvGroupID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "long_poll: [not, a, map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"wait too long", func(c *Config) { c.LongPoll.Wait = 91 }, "long_poll.wait"},
		{"wait zero", func(c *Config) { c.LongPoll.Wait = 0 }, "long_poll.wait"},
		{"negative group", func(c *Config) { c.GroupID = -1 }, "group_id"},
		{"no api url", func(c *Config) { c.API.URL = "" }, "api.url"},
		{"max below initial", func(c *Config) { c.LongPoll.Backoff.Max = time.Millisecond }, "backoff.max"},
		{"shrinking multiplier", func(c *Config) { c.LongPoll.Backoff.Multiplier = 0.5 }, "multiplier"},
		{"negative in flight", func(c *Config) { c.Dispatch.MaxInFlight = -1 }, "max_in_flight"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"metrics without interval", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Interval = 0 }, "metrics.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

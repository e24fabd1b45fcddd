package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/korailwatch/agent/internal/config"
)

// writeConfig writes content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseInterval != 30 {
		t.Errorf("base_interval = %v, want 30", cfg.BaseInterval)
	}
	if cfg.MaxInterval != 300 {
		t.Errorf("max_interval = %v, want 300", cfg.MaxInterval)
	}
	if cfg.BackoffMultiplier != 1.5 {
		t.Errorf("backoff_multiplier = %v, want 1.5", cfg.BackoffMultiplier)
	}
	if cfg.MaxSessionDuration != 21600 {
		t.Errorf("max_session_duration = %v, want 21600", cfg.MaxSessionDuration)
	}
	if cfg.MaxConsecutiveErrors != 10 {
		t.Errorf("max_consecutive_errors = %v, want 10", cfg.MaxConsecutiveErrors)
	}
	if cfg.MaxRequestsPerSession != 720 {
		t.Errorf("max_requests_per_session = %v, want 720", cfg.MaxRequestsPerSession)
	}
	if cfg.GCInterval != 50 {
		t.Errorf("gc_interval = %v, want 50", cfg.GCInterval)
	}
	if cfg.NotificationCooldown != 60 {
		t.Errorf("notification_cooldown = %v, want 60", cfg.NotificationCooldown)
	}
	if len(cfg.NotificationMethods) != 2 || cfg.NotificationMethods[0] != "desktop" || cfg.NotificationMethods[1] != "sound" {
		t.Errorf("notification_methods = %v, want [desktop sound]", cfg.NotificationMethods)
	}
	if cfg.MaxConnections != 3 {
		t.Errorf("max_connections = %v, want 3", cfg.MaxConnections)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level = %q, want info", cfg.LogLevel)
	}
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
base_interval: 15
max_interval: 120
notification_methods: [webhook]
webhook_url: https://hooks.example.com/T000/B000
log_level: debug
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseInterval != 15 {
		t.Errorf("base_interval = %v, want 15", cfg.BaseInterval)
	}
	if cfg.MaxInterval != 120 {
		t.Errorf("max_interval = %v, want 120", cfg.MaxInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.BackoffMultiplier != 1.5 {
		t.Errorf("backoff_multiplier = %v, want default 1.5", cfg.BackoffMultiplier)
	}
	if cfg.WebhookURL == "" {
		t.Error("webhook_url lost")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "base_interval: [not a number\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"max below base", "base_interval: 60\nmax_interval: 30\n", "max_interval"},
		{"multiplier too small", "backoff_multiplier: 0.5\n", "backoff_multiplier"},
		{"bad method", "notification_methods: [pager]\n", "notification method"},
		{"webhook without url", "notification_methods: [webhook]\n", "webhook_url"},
		{"bad log level", "log_level: verbose\n", "log_level"},
		{"negative jitter", "jitter_range: -1\n", "jitter_range"},
	}

	for _, c := range cases {
		path := writeConfig(t, c.yaml)
		_, err := config.Load(path)
		if err == nil {
			t.Errorf("%s: Load accepted invalid config", c.name)
			continue
		}
		if !strings.Contains(err.Error(), c.wantSub) {
			t.Errorf("%s: error %q does not mention %q", c.name, err, c.wantSub)
		}
	}
}

func TestSeconds(t *testing.T) {
	if got := config.Seconds(1.5); got != 1500*time.Millisecond {
		t.Errorf("Seconds(1.5) = %v, want 1.5s", got)
	}
	if got := config.Seconds(0); got != 0 {
		t.Errorf("Seconds(0) = %v, want 0", got)
	}
}

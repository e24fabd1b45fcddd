// Package config provides YAML configuration loading, defaults, and
// validation for the seat-monitoring agent. Every key has a default; a
// missing file yields a fully usable configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete tuning surface for one monitoring session. Interval
// and timeout fields are plain seconds so the YAML matches the documented
// knobs one-to-one; use Seconds to convert.
type Config struct {
	// Polling cadence.
	BaseInterval      float64 `yaml:"base_interval"`      // poll period floor (s)
	MaxInterval       float64 `yaml:"max_interval"`       // backoff ceiling (s)
	BackoffMultiplier float64 `yaml:"backoff_multiplier"` // on-error factor
	JitterRange       float64 `yaml:"jitter_range"`       // added uniform jitter (s)

	// Session limits.
	MaxSessionDuration    float64 `yaml:"max_session_duration"` // lifetime cap (s)
	MaxConsecutiveErrors  int     `yaml:"max_consecutive_errors"`
	MaxRequestsPerSession int     `yaml:"max_requests_per_session"`

	// Memory management.
	GCInterval int `yaml:"gc_interval"` // successful polls between GC hints

	// Notification.
	NotificationCooldown float64  `yaml:"notification_cooldown"` // dedup window (s)
	NotificationMethods  []string `yaml:"notification_methods"`
	WebhookURL           string   `yaml:"webhook_url"`
	WebhookSecret        string   `yaml:"webhook_secret"` // optional HS256 bearer signing key

	// HTTP.
	RequestTimeout float64 `yaml:"request_timeout"` // total per-request budget (s)
	ConnectTimeout float64 `yaml:"connect_timeout"` // dial budget (s)
	MaxConnections int     `yaml:"max_connections"`

	// Operational surface.
	LogLevel    string `yaml:"log_level"`    // debug, info, warn, error
	StatusAddr  string `yaml:"status_addr"`  // loopback status API listen address; empty disables
	JournalPath string `yaml:"journal_path"` // SQLite session journal; empty disables
}

// Default returns the documented default configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Seconds converts a seconds value from the configuration to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validMethods = map[string]bool{
	"desktop": true,
	"sound":   true,
	"webhook": true,
}

// Load reads the YAML file at path, applies defaults, and validates. An empty
// path skips the file entirely and returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills in zero-value fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.BaseInterval == 0 {
		cfg.BaseInterval = 30
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 300
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = 1.5
	}
	if cfg.JitterRange == 0 {
		cfg.JitterRange = 5
	}
	if cfg.MaxSessionDuration == 0 {
		cfg.MaxSessionDuration = 21600 // 6h
	}
	if cfg.MaxConsecutiveErrors == 0 {
		cfg.MaxConsecutiveErrors = 10
	}
	if cfg.MaxRequestsPerSession == 0 {
		cfg.MaxRequestsPerSession = 720
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = 50
	}
	if cfg.NotificationCooldown == 0 {
		cfg.NotificationCooldown = 60
	}
	if cfg.NotificationMethods == nil {
		cfg.NotificationMethods = []string{"desktop", "sound"}
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 3
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks ranges and cross-field requirements, reporting every
// violation at once.
func validate(cfg *Config) error {
	var errs []error

	if cfg.BaseInterval < 0 {
		errs = append(errs, errors.New("base_interval must be positive"))
	}
	if cfg.MaxInterval < cfg.BaseInterval {
		errs = append(errs, errors.New("max_interval must be at least base_interval"))
	}
	if cfg.BackoffMultiplier <= 1 {
		errs = append(errs, errors.New("backoff_multiplier must be greater than 1"))
	}
	if cfg.JitterRange < 0 {
		errs = append(errs, errors.New("jitter_range must not be negative"))
	}
	if cfg.MaxSessionDuration <= 0 {
		errs = append(errs, errors.New("max_session_duration must be positive"))
	}
	if cfg.MaxConsecutiveErrors < 1 {
		errs = append(errs, errors.New("max_consecutive_errors must be at least 1"))
	}
	if cfg.MaxRequestsPerSession < 1 {
		errs = append(errs, errors.New("max_requests_per_session must be at least 1"))
	}
	if cfg.GCInterval < 1 {
		errs = append(errs, errors.New("gc_interval must be at least 1"))
	}
	if cfg.NotificationCooldown < 0 {
		errs = append(errs, errors.New("notification_cooldown must not be negative"))
	}
	for _, m := range cfg.NotificationMethods {
		if !validMethods[m] {
			errs = append(errs, fmt.Errorf("notification method %q must be one of: desktop, sound, webhook", m))
		}
		if m == "webhook" && cfg.WebhookURL == "" {
			errs = append(errs, errors.New("webhook_url is required when the webhook method is enabled"))
		}
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect_timeout must be positive"))
	}
	if cfg.MaxConnections < 1 {
		errs = append(errs, errors.New("max_connections must be at least 1"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}

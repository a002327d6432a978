package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultEpicsPath    = "epics.yaml"
	DefaultDatabasePath = "autodev.db"
	DefaultAPIPort      = 8080
	DefaultMaxWorkers   = 2
	DefaultTickSeconds  = 5
)

// Config holds all application configuration
type Config struct {
	// Paths
	EpicsPath    string `yaml:"epics_path"`
	DatabasePath string `yaml:"database_path"`
	WorkingDir   string `yaml:"working_dir"`

	// Orchestration settings
	MaxWorkers       int `yaml:"max_workers"`
	TickSeconds      int `yaml:"tick_seconds"`
	CiTimeoutMinutes int `yaml:"ci_timeout_minutes"`

	// Merge policy
	ReviewRequired bool     `yaml:"review_required"`
	AutoMerge      bool     `yaml:"auto_merge"`
	CleanupSteps   []string `yaml:"cleanup_steps"`

	// Failure policy
	FlakyMaxRetries     int  `yaml:"flaky_max_retries"`
	FlakyBackoffSeconds int  `yaml:"flaky_backoff_seconds"`
	NetworkAutoRetry    bool `yaml:"network_auto_retry"`
	NetworkMaxRetries   int  `yaml:"network_max_retries"`
	PingPongThreshold   int  `yaml:"ping_pong_threshold"`
	TokenCeiling        int  `yaml:"token_ceiling"`

	// API settings
	APIEnabled         bool     `yaml:"api_enabled"`
	APIPort            int      `yaml:"api_port"`
	APIKey             string   `yaml:"api_key"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Discovery settings
	WatchEnabled    bool `yaml:"watch_enabled"`
	WatchDebounceMs int  `yaml:"watch_debounce_ms"`
}

// New creates a Config with default values
func New() *Config {
	wd, _ := os.Getwd()

	return &Config{
		EpicsPath:           filepath.Join(wd, DefaultEpicsPath),
		DatabasePath:        filepath.Join(wd, DefaultDatabasePath),
		WorkingDir:          wd,
		MaxWorkers:          DefaultMaxWorkers,
		TickSeconds:         DefaultTickSeconds,
		CiTimeoutMinutes:    30,
		ReviewRequired:      true,
		AutoMerge:           false,
		FlakyMaxRetries:     3,
		FlakyBackoffSeconds: 10,
		NetworkAutoRetry:    true,
		NetworkMaxRetries:   3,
		PingPongThreshold:   4,
		TokenCeiling:        200_000,
		APIEnabled:          false,
		APIPort:             DefaultAPIPort,
		CORSAllowedOrigins:  []string{"http://localhost:*"},
		WatchEnabled:        true,
		WatchDebounceMs:     500,
	}
}

// Load reads a YAML config file over the defaults. A missing file is not
// an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Secrets come from the environment, not the config file.
	if key := os.Getenv("AUTODEV_API_KEY"); key != "" {
		cfg.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.TickSeconds < 1 {
		return fmt.Errorf("tick_seconds must be at least 1, got %d", c.TickSeconds)
	}
	if c.APIEnabled && (c.APIPort < 1 || c.APIPort > 65535) {
		return fmt.Errorf("api_port out of range: %d", c.APIPort)
	}
	return nil
}

// TickInterval returns the orchestration tick interval
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// CiTimeout returns how long a silent CI aggregate counts as alive
func (c *Config) CiTimeout() time.Duration {
	return time.Duration(c.CiTimeoutMinutes) * time.Minute
}

// FlakyBackoffBase returns the base delay for flaky test retries
func (c *Config) FlakyBackoffBase() time.Duration {
	return time.Duration(c.FlakyBackoffSeconds) * time.Second
}

// WatchDebounce returns the discovery watcher debounce window
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

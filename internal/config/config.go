// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// RemoteConfig holds the hosted backend connection settings
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	AnonKey string `yaml:"anon_key"`
	Timeout string `yaml:"timeout"` // per-request timeout (e.g., "15s")
}

// CacheConfig holds local snapshot cache settings
type CacheConfig struct {
	Path         string `yaml:"path"`
	WriteDelayMs int    `yaml:"write_delay_ms"` // debounce before persisting a snapshot
	Watch        *bool  `yaml:"watch"`          // refresh when another process writes the cache (default: true)
}

// SyncConfig holds change feed settings
type SyncConfig struct {
	PollInterval string `yaml:"poll_interval"` // e.g., "3s"
	MaxRetries   int    `yaml:"max_retries"`   // retries on rate-limited requests
}

// LoggingConfig holds notification log settings
type LoggingConfig struct {
	Enabled *bool  `yaml:"enabled"` // append warnings/errors to a log file (default: true)
	Path    string `yaml:"path"`
}

// Config represents the application configuration
type Config struct {
	Remote       RemoteConfig  `yaml:"remote"`
	Cache        CacheConfig   `yaml:"cache"`
	Sync         SyncConfig    `yaml:"sync"`
	Logging      LoggingConfig `yaml:"logging"`
	OutputFormat string        `yaml:"output_format"`
	DefaultView  string        `yaml:"default_view"` // task filter applied when none given: all, active, completed
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Path: filepath.Join(GetDataDir(), "snapshots.db"),
		},
		OutputFormat: "text",
		DefaultView:  "all",
	}
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one with defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	// Apply defaults for unset fields
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "text"
	}
	if cfg.DefaultView == "" {
		cfg.DefaultView = "all"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(GetDataDir(), "snapshots.db")
	} else {
		cfg.Cache.Path = ExpandPath(cfg.Cache.Path)
	}
	if cfg.Logging.Path != "" {
		cfg.Logging.Path = ExpandPath(cfg.Logging.Path)
	}

	return cfg, nil
}

// save writes the configuration to the specified path
func (c *Config) save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use the embedded sample config which includes all documentation and comments
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	switch c.DefaultView {
	case "all", "active", "completed":
	default:
		return fmt.Errorf("invalid default_view: %q (must be 'all', 'active' or 'completed')", c.DefaultView)
	}

	if c.Sync.PollInterval != "" {
		d, err := time.ParseDuration(c.Sync.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid duration for sync.poll_interval: %q", c.Sync.PollInterval)
		}
		if d < time.Second {
			return fmt.Errorf("sync.poll_interval must be at least 1s, got %q", c.Sync.PollInterval)
		}
	}

	if c.Remote.Timeout != "" {
		if _, err := time.ParseDuration(c.Remote.Timeout); err != nil {
			return fmt.Errorf("invalid duration for remote.timeout: %q", c.Remote.Timeout)
		}
	}

	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(outputFormat string) {
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
}

// GetCachePath returns the path to the snapshot cache database
func (c *Config) GetCachePath() string {
	return c.Cache.Path
}

// GetWriteDelay returns the cache write debounce as a time.Duration.
// Returns 300 milliseconds as default if not configured.
func (c *Config) GetWriteDelay() time.Duration {
	if c.Cache.WriteDelayMs <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(c.Cache.WriteDelayMs) * time.Millisecond
}

// IsCacheWatchEnabled returns true if cache file watching is enabled.
// Returns true (default) if not configured.
func (c *Config) IsCacheWatchEnabled() bool {
	if c.Cache.Watch == nil {
		return true
	}
	return *c.Cache.Watch
}

// GetPollInterval returns the change feed poll interval as a time.Duration.
// Returns 3 seconds as default if not configured or if parsing fails.
func (c *Config) GetPollInterval() time.Duration {
	if c.Sync.PollInterval == "" {
		return 3 * time.Second
	}
	d, err := time.ParseDuration(c.Sync.PollInterval)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// GetMaxRetries returns the retry budget for rate-limited requests.
// Returns 3 (default) if not configured.
func (c *Config) GetMaxRetries() int {
	if c.Sync.MaxRetries <= 0 {
		return 3
	}
	return c.Sync.MaxRetries
}

// GetRemoteTimeout returns the per-request timeout as a time.Duration.
// Returns 15 seconds as default if not configured or if parsing fails.
func (c *Config) GetRemoteTimeout() time.Duration {
	if c.Remote.Timeout == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(c.Remote.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// IsLoggingEnabled returns true if the notification log is enabled.
// Returns true (default) if not configured.
func (c *Config) IsLoggingEnabled() bool {
	if c.Logging.Enabled == nil {
		return true
	}
	return *c.Logging.Enabled
}

// GetLogPath returns the notification log path.
// Returns the default XDG data path if not configured.
func (c *Config) GetLogPath() string {
	if c.Logging.Path == "" {
		return filepath.Join(GetDataDir(), "notifications.log")
	}
	return c.Logging.Path
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "taskflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "taskflow")
	}
	return filepath.Join(home, fallbackPath, "taskflow")
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}

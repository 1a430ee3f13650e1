package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// APIURLEnv overrides [APIConfig.BaseURL] when set.
const APIURLEnv = "IRRIGO_API_URL"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Database  DatabaseConfig  `toml:"database"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Log       LogConfig       `toml:"log"`
}

// APIConfig contains irrigation backend connection settings.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// DashboardConfig controls live telemetry polling.
type DashboardConfig struct {
	RefreshIntervalSeconds int  `toml:"refresh_interval_seconds"`
	AutoRefresh            bool `toml:"auto_refresh"`
	BreakerFailures        int  `toml:"breaker_failures"`
	BreakerOpenSeconds     int  `toml:"breaker_open_seconds"`
}

// LogConfig controls logger level and the dashboard log file.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Timeout returns the HTTP client timeout, defaulting to 15 seconds.
func (c APIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RefreshInterval returns the polling period, defaulting to 10 seconds.
func (c DashboardConfig) RefreshInterval() time.Duration {
	if c.RefreshIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// BreakerTimeout returns how long background polling stays paused once the breaker opens.
func (c DashboardConfig) BreakerTimeout() time.Duration {
	if c.BreakerOpenSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.BreakerOpenSeconds) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their defaults from the embedded example config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.applyEnv()
	return &config
}

// Validate reports settings that cannot work at runtime.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("%w: api.base_url is empty", ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	}
	if c.Dashboard.RefreshIntervalSeconds < 0 {
		return fmt.Errorf("%w: dashboard.refresh_interval_seconds must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) applyEnv() {
	if u := os.Getenv(APIURLEnv); u != "" {
		c.API.BaseURL = u
	}
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

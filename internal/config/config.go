// Package config provides configuration management for mswitch using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultControlPort           = 8099
	defaultHealthCheckInterval   = 2000 * time.Millisecond
	defaultSourceTimeout         = 5000 * time.Millisecond
	defaultStartupGracePeriod    = 0 * time.Millisecond
	defaultSourceDialTimeout     = 100 * time.Millisecond
	defaultManualSwitchGrace     = 3000 * time.Millisecond
	defaultSwitchTimeout         = 3000 * time.Millisecond
	defaultQueueCapacity         = 90
	defaultTimestampDriftThresh  = 90000
	minControlPort               = 1024
	maxControlPort               = 65535
	minSources                   = 1
	maxSources                   = 10
)

// Config holds all configuration for the switcher.
type Config struct {
	Switcher SwitcherConfig `mapstructure:"switcher"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SwitcherConfig holds the enumerated switcher options.
//
// These mirror the msw_* open-URL options: the URL parser in
// internal/mswitchurl populates a Config from the query string, and the
// daemon CLI populates the same struct from flags/env for standalone use.
type SwitcherConfig struct {
	// Sources is the ordered list of source URLs. The last entry is the
	// reserved black-filler source.
	Sources []string `mapstructure:"sources"`

	ControlPort            int           `mapstructure:"control_port"`
	AutoFailoverEnabled    bool          `mapstructure:"auto_failover_enabled"`
	HealthCheckInterval    time.Duration `mapstructure:"health_check_interval"`
	SourceTimeout          time.Duration `mapstructure:"source_timeout"`
	StartupGracePeriod     time.Duration `mapstructure:"startup_grace_period"`
	SourceDialTimeout      time.Duration `mapstructure:"source_dial_timeout"`
	ManualSwitchGrace      time.Duration `mapstructure:"manual_switch_grace"`
	SwitchTimeout          time.Duration `mapstructure:"switch_timeout"`
	QueueCapacity          int           `mapstructure:"queue_capacity"`
	TimestampDriftThreshold int64        `mapstructure:"timestamp_drift_threshold"`
	EnableConsole          bool          `mapstructure:"enable_console"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MSWITCH_ and use underscores for nesting.
// Example: MSWITCH_SWITCHER_CONTROL_PORT=8099.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mswitch")
		v.AddConfigPath("$HOME/.mswitch")
	}

	v.SetEnvPrefix("MSWITCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("switcher.control_port", defaultControlPort)
	v.SetDefault("switcher.auto_failover_enabled", true)
	v.SetDefault("switcher.health_check_interval", defaultHealthCheckInterval)
	v.SetDefault("switcher.source_timeout", defaultSourceTimeout)
	v.SetDefault("switcher.startup_grace_period", defaultStartupGracePeriod)
	v.SetDefault("switcher.source_dial_timeout", defaultSourceDialTimeout)
	v.SetDefault("switcher.manual_switch_grace", defaultManualSwitchGrace)
	v.SetDefault("switcher.switch_timeout", defaultSwitchTimeout)
	v.SetDefault("switcher.queue_capacity", defaultQueueCapacity)
	v.SetDefault("switcher.timestamp_drift_threshold", defaultTimestampDriftThresh)
	v.SetDefault("switcher.enable_console", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Switcher.Sources) < minSources || len(c.Switcher.Sources) > maxSources {
		return fmt.Errorf("switcher.sources must have between %d and %d entries", minSources, maxSources)
	}
	if c.Switcher.ControlPort < minControlPort || c.Switcher.ControlPort > maxControlPort {
		return fmt.Errorf("switcher.control_port must be between %d and %d", minControlPort, maxControlPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// BlackSourceIndex returns the index of the reserved black-filler source,
// always the last entry in Sources.
func (c *SwitcherConfig) BlackSourceIndex() int {
	return len(c.Sources) - 1
}

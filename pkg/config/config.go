// Package config loads, defaults, and validates the server configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (CAIRNFS_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Cache controls the metadata cache layer
	Cache CacheConfig `mapstructure:"cache"`

	// Delegate specifies the storage delegate type and type-specific
	// configuration
	Delegate DelegateConfig `mapstructure:"delegate"`

	// Exports defines the exported namespaces
	Exports []ExportConfig `mapstructure:"exports" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// CacheConfig controls the metadata cache layer.
type CacheConfig struct {
	// OpenFileLimit caps concurrently open delegate descriptors across
	// the process; -1 means unlimited, 0 selects the default. Requests
	// arriving at the limit are told to retry rather than queued.
	OpenFileLimit int64 `mapstructure:"open_file_limit" validate:"min=-1"`
}

// DelegateConfig specifies storage delegate configuration.
//
// The Type field determines which delegate implementation is used. Only the
// corresponding type-specific section is consulted.
type DelegateConfig struct {
	// Type specifies which delegate implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-delegate options
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-delegate options
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// ExportConfig defines one exported namespace.
type ExportConfig struct {
	// ID distinguishes exports in logs and handles; must be unique
	ID uint16 `mapstructure:"id" validate:"required"`

	// Path is the export root inside the delegate's namespace
	Path string `mapstructure:"path" validate:"required"`

	// StableWrites forces every write through this export to stable
	// storage before it is acknowledged
	StableWrites bool `mapstructure:"stable_writes"`
}

// Load reads, defaults, and validates configuration.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: CAIRNFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CAIRNFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is fine; everything then comes from environment and defaults.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path, using
// XDG_CONFIG_HOME when set and falling back to ~/.config.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cairnfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cairnfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

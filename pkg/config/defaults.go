package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCacheDefaults(&cfg.Cache)
	applyDelegateDefaults(&cfg.Delegate)

	// Add a default export if none configured
	if len(cfg.Exports) == 0 {
		cfg.Exports = []ExportConfig{
			{
				ID:   1,
				Path: "/",
			},
		}
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyCacheDefaults sets cache layer defaults.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.OpenFileLimit == 0 {
		cfg.OpenFileLimit = 1024
	}
}

// applyDelegateDefaults sets delegate defaults.
func applyDelegateDefaults(cfg *DelegateConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
}

// Package config manages fixd configuration: the daemon-level YAML
// config (loaded with koanf/v2 from file and environment) and the
// QuickFIX-style INI session settings file it points at.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the daemon-level fixd configuration.
type Config struct {
	Admin    AdminConfig `koanf:"admin"`
	Log      LogConfig   `koanf:"log"`
	Store    StoreConfig `koanf:"store"`
	Settings string      `koanf:"settings"`
}

// AdminConfig holds the HTTP status/metrics endpoint configuration.
type AdminConfig struct {
	// Addr is the HTTP listen address (e.g., ":9101").
	Addr string `koanf:"addr"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// Store backends selectable via store.backend.
const (
	StoreBackendMemory = "memory"
	StoreBackendFile   = "file"
	StoreBackendBadger = "badger"
)

// StoreConfig selects the message-store backend.
type StoreConfig struct {
	// Backend is "memory", "file", or "badger".
	Backend string `koanf:"backend"`
	// Dir is the data directory for file and badger backends.
	Dir string `koanf:"dir"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":9101",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: StoreBackendFile,
			Dir:     "data",
		},
		Settings: "sessions.cfg",
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for fixd configuration.
// Variables are named FIXD_<section>_<key>, e.g., FIXD_ADMIN_ADDR.
const envPrefix = "FIXD_"

// Load reads configuration from a YAML file at path, overlays
// environment variable overrides (FIXD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips
// the file layer.
//
// Environment variable mapping:
//
//	FIXD_ADMIN_ADDR     -> admin.addr
//	FIXD_LOG_LEVEL      -> log.level
//	FIXD_LOG_FORMAT     -> log.format
//	FIXD_STORE_BACKEND  -> store.backend
//	FIXD_STORE_DIR      -> store.dir
//	FIXD_SETTINGS       -> settings
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// envKeyMapper transforms FIXD_ADMIN_ADDR -> admin.addr.
// Strips the FIXD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":    defaults.Admin.Addr,
		"log.level":     defaults.Log.Level,
		"log.format":    defaults.Log.Format,
		"store.backend": defaults.Store.Backend,
		"store.dir":     defaults.Store.Dir,
		"settings":      defaults.Settings,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrUnknownStoreBackend indicates an unrecognized store backend.
	ErrUnknownStoreBackend = errors.New("store.backend must be memory, file, or badger")

	// ErrEmptyStoreDir indicates a persistent backend without a directory.
	ErrEmptyStoreDir = errors.New("store.dir must not be empty for file and badger backends")

	// ErrEmptySettingsPath indicates no session settings file.
	ErrEmptySettingsPath = errors.New("settings path must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}
	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendFile, StoreBackendBadger:
		if cfg.Store.Dir == "" {
			return ErrEmptyStoreDir
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStoreBackend, cfg.Store.Backend)
	}
	if cfg.Settings == "" {
		return ErrEmptySettingsPath
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

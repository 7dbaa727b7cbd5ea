// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides global configuration loading for stagefs
// commands.
//
// Configuration is loaded from a single file specified by:
//   - STAGEFS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// Per-repository settings (.stagefs.json at the repository root) are
// separate and loaded by the provider layer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the global configuration for stagefs commands.
type Config struct {
	// Service configures the Unix socket service.
	Service ServiceConfig `yaml:"service"`

	// Mount configures the FUSE mount.
	Mount MountConfig `yaml:"mount"`

	// Watch configures index change detection.
	Watch WatchConfig `yaml:"watch"`

	// Log configures diagnostic output.
	Log LogConfig `yaml:"log"`
}

// ServiceConfig configures the Unix socket service.
type ServiceConfig struct {
	// SocketPath is the Unix socket the service listens on.
	// Default: ${XDG_RUNTIME_DIR}/stagefs.sock, falling back to
	// /tmp/stagefs-${UID}.sock.
	SocketPath string `yaml:"socket_path"`
}

// MountConfig configures the FUSE mount.
type MountConfig struct {
	// Mountpoint is where the staged tree is mounted. Created if it
	// does not exist.
	Mountpoint string `yaml:"mountpoint"`

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`
}

// WatchConfig configures index change detection.
type WatchConfig struct {
	// DebounceMS is the quiet period in milliseconds after an index
	// change before listeners are notified. Git replaces the index
	// with a rename after a lock dance; the debounce absorbs the
	// intermediate events. A repository's .stagefs.json may override
	// this per repository.
	DebounceMS int `yaml:"debounce_ms"`
}

// LogConfig configures diagnostic output.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, or error.
	// Default: info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Default: text.
	Format string `yaml:"format"`
}

// Default returns the default configuration. These defaults are the
// complete working configuration: unlike most config-file systems,
// stagefs runs fine with no file at all.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			SocketPath: defaultSocketPath(),
		},
		Mount: MountConfig{
			Mountpoint: "",
			AllowOther: false,
		},
		Watch: WatchConfig{
			DebounceMS: 50,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "stagefs.sock")
	}
	return fmt.Sprintf("/tmp/stagefs-%d.sock", os.Getuid())
}

// Load loads configuration from the STAGEFS_CONFIG environment
// variable, or returns the defaults when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("STAGEFS_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults. Environment variables do not override config
// values; the only expansion performed is ${VAR} and ${VAR:-default}
// in path fields, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Debounce returns the configured debounce as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path fields.
func (c *Config) expandVariables() {
	c.Service.SocketPath = expandVars(c.Service.SocketPath)
	c.Mount.Mountpoint = expandVars(c.Mount.Mountpoint)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.SocketPath == "" {
		errs = append(errs, fmt.Errorf("service.socket_path is required"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: text, json"))
	}

	if c.Watch.DebounceMS < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce_ms must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

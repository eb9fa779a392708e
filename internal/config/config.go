// Package config provides tool-wide configuration types and defaults for cs2ctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cs2ctl/internal/log"
	"cs2ctl/internal/tracing"
)

// Config holds all configuration options for cs2ctl.
type Config struct {
	// ServersDir is the base directory new instances are installed under
	// when `install --dir` is not given.
	ServersDir string `mapstructure:"servers_dir"`

	Steam   SteamConfig    `mapstructure:"steam"`
	Process ProcessConfig  `mapstructure:"process"`
	Locking LockConfig     `mapstructure:"locking"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// SteamConfig holds steamcmd invocation settings.
type SteamConfig struct {
	// SteamCmd is the path to the steamcmd executable. Empty means resolve
	// from PATH and the conventional install locations.
	SteamCmd string `mapstructure:"steamcmd"`

	// AppID is the Steam application id downloaded for each instance.
	// 730 is the CS2 dedicated server.
	AppID int `mapstructure:"app_id"`

	// MinDiskGB is the free-space preflight threshold for install/update.
	MinDiskGB int `mapstructure:"min_disk_gb"`
}

// ProcessConfig holds server process lifecycle settings.
type ProcessConfig struct {
	// ReadinessWindow is how long start watches a freshly spawned server
	// for an early exit before reporting it running.
	ReadinessWindow time.Duration `mapstructure:"readiness_window"`

	// StopTimeout is how long stop waits after SIGTERM before escalating
	// to SIGKILL.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// LockConfig holds advisory lock settings.
type LockConfig struct {
	// Wait is the bounded wait for a busy instance lock before the command
	// fails with InstanceBusy.
	Wait time.Duration `mapstructure:"wait"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		ServersDir: defaultServersDir(),
		Steam: SteamConfig{
			SteamCmd:  "",
			AppID:     730,
			MinDiskGB: 40,
		},
		Process: ProcessConfig{
			ReadinessWindow: 3 * time.Second,
			StopTimeout:     10 * time.Second,
		},
		Locking: LockConfig{
			Wait: 5 * time.Second,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks the configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func Validate(cfg Config) error {
	if cfg.Steam.AppID <= 0 {
		return fmt.Errorf("steam.app_id must be positive, got %d", cfg.Steam.AppID)
	}
	if cfg.Steam.MinDiskGB < 0 {
		return fmt.Errorf("steam.min_disk_gb must not be negative, got %d", cfg.Steam.MinDiskGB)
	}
	if cfg.Process.ReadinessWindow < 0 {
		return fmt.Errorf("process.readiness_window must not be negative, got %v", cfg.Process.ReadinessWindow)
	}
	if cfg.Process.StopTimeout <= 0 {
		return fmt.Errorf("process.stop_timeout must be positive, got %v", cfg.Process.StopTimeout)
	}
	if cfg.Locking.Wait < 0 {
		return fmt.Errorf("locking.wait must not be negative, got %v", cfg.Locking.Wait)
	}
	if err := tracing.ValidateConfig(cfg.Tracing); err != nil {
		return err
	}
	return nil
}

// Dir returns the per-user cs2ctl configuration directory.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".cs2ctl"
	}
	return filepath.Join(base, "cs2ctl")
}

// RegistryPath returns the path of the persisted registry document.
func RegistryPath() string {
	return filepath.Join(Dir(), "registry.yaml")
}

// StateDBPath returns the path of the sqlite state database.
func StateDBPath() string {
	return filepath.Join(Dir(), "state.db")
}

// LogPath returns the debug log file path.
func LogPath() string {
	return filepath.Join(Dir(), "cs2ctl.log")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	return filepath.Join(Dir(), "traces", "traces.jsonl")
}

func defaultServersDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "servers"
	}
	return filepath.Join(home, "cs2-servers")
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# cs2ctl configuration

# Base directory new server instances are installed under when
# 'cs2ctl install --dir' is not given.
# servers_dir: ~/cs2-servers

steam:
  # Path to the steamcmd executable. Leave empty to resolve from PATH and
  # the conventional install locations (/usr/games/steamcmd, ~/steamcmd).
  # steamcmd: /usr/games/steamcmd

  # Steam application id downloaded for each instance (730 = CS2 dedicated server).
  app_id: 730

  # Free-space preflight threshold for install/update. The install fails
  # fast with InsufficientDisk instead of letting a multi-gigabyte
  # transfer die midway.
  min_disk_gb: 40

process:
  # How long 'start' watches a freshly spawned server for an early exit
  # before reporting it running.
  readiness_window: 3s

  # How long 'stop' waits after the graceful termination request before
  # escalating to a forced kill.
  stop_timeout: 10s

locking:
  # Bounded wait for a busy instance lock before the command fails with
  # InstanceBusy.
  wait: 5s

# Distributed tracing of orchestrator operations.
# tracing:
#   enabled: false             # Enable/disable tracing (default: false)
#   exporter: file             # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/cs2ctl/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0           # Trace sampling rate 0.0-1.0 (default: 1.0)
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

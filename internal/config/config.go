// Package config provides configuration loading and saving for the Kovaaks
// RPC daemon.
//
// Settings live in a TOML file in the data directory, seeded from the
// embedded config.default.toml on first run. Besides user-editable options
// (game install path, webapp username, behavior toggles) the file also
// carries two pieces of persisted state updated by the daemon itself: the
// online-scores-synced flag and the last sync timestamp.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/atomicfile"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/migrate"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/paths"
)

// DefaultDiscordAppID is the Discord application registered for this daemon.
const DefaultDiscordAppID = "1325556146452033738"

// DefaultBaseURL is the kovaaks.com webapp backend.
const DefaultBaseURL = "https://kovaaks.com/webapp-backend"

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level settings file.
type Config struct {
	// Version is the settings schema version used for migrations.
	Version int `toml:"version"`
	// Game holds install locations of the tracked game.
	Game GameConfig `toml:"game"`
	// Webapp holds kovaaks.com account and endpoint settings.
	Webapp WebappConfig `toml:"webapp"`
	// Behavior holds daemon behavior toggles and intervals.
	Behavior BehaviorConfig `toml:"behavior"`
	// Privacy holds scenario-hiding settings.
	Privacy PrivacyConfig `toml:"privacy"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// GameConfig holds install locations of the tracked game.
type GameConfig struct {
	// InstallPath is the FPSAimTrainer install directory (contains "stats").
	InstallPath string `toml:"install_path"`
	// SteamPath is the Steam executable path, used by external launchers.
	SteamPath string `toml:"steam_path"`
}

// WebappConfig holds kovaaks.com account and endpoint settings.
type WebappConfig struct {
	// Username is the webapp account whose online scores are synced.
	// Empty disables online features.
	Username string `toml:"username"`
	// BaseURL is the score listing backend; override only for testing.
	BaseURL string `toml:"base_url"`
	// ScoresSynced records whether an online sync has ever completed for
	// the current username. Written by the daemon, not the user.
	ScoresSynced bool `toml:"scores_synced"`
	// LastSyncTime is the Unix timestamp of the last successful sync.
	// Written by the daemon, not the user.
	LastSyncTime int64 `toml:"last_sync_time"`
}

// BehaviorConfig holds daemon behavior toggles and intervals.
type BehaviorConfig struct {
	// ShowOnlineScores displays online scores alongside local ones.
	ShowOnlineScores bool `toml:"show_online_scores"`
	// OnlineOnlyScenarios restricts tracking to scenarios that exist
	// online for the configured user.
	OnlineOnlyScenarios bool `toml:"online_only_scenarios"`
	// PollIntervalSeconds is the session monitor tick period.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// StartWithOS registers the daemon to start with the OS.
	StartWithOS bool `toml:"start_with_os"`
}

// PrivacyConfig holds scenario-hiding settings.
type PrivacyConfig struct {
	// Ignore is a list of doublestar glob patterns; scenarios matching any
	// pattern are never tracked or broadcast.
	Ignore []string `toml:"ignore"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Defaults
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with defaults matching
// config.default.toml.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		Game: GameConfig{
			SteamPath: `C:\Program Files (x86)\Steam\steam.exe`,
		},
		Webapp: WebappConfig{
			BaseURL: DefaultBaseURL,
		},
		Behavior: BehaviorConfig{
			PollIntervalSeconds: 10,
		},
		Privacy: PrivacyConfig{
			Ignore: []string{},
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// Load reads and parses the settings file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig. A file from an older
// schema is backed up and migrated before parsing.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)
	if version != migrate.Config.CurrentVersion {
		if backupErr := os.WriteFile(path+paths.BackupExt, data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		var migrateErr error
		data, _, migrateErr = migrate.Config.Run(data, version)
		if migrateErr != nil {
			return nil, fmt.Errorf("migrate config: %w", migrateErr)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save atomically writes the settings file to dataDir/config.toml.
func (c *Config) Save(dataDir string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path := filepath.Join(dataDir, paths.ConfigFile)
	if err := atomicfile.Write(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks settings for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Behavior.PollIntervalSeconds < 1 {
		return fmt.Errorf("behavior.poll_interval_seconds must be >= 1, got %d", c.Behavior.PollIntervalSeconds)
	}
	if !strings.HasPrefix(c.Webapp.BaseURL, "http://") && !strings.HasPrefix(c.Webapp.BaseURL, "https://") {
		return fmt.Errorf("webapp.base_url must be an http(s) URL, got %q", c.Webapp.BaseURL)
	}
	for _, pattern := range c.Privacy.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("privacy.ignore: invalid pattern %q", pattern)
		}
	}
	return nil
}

// ///////////////////////////////////////////////
// Derived Paths and Filters
// ///////////////////////////////////////////////

// StatsDir returns the directory holding per-attempt score log files.
// Empty when no install path is configured.
func (c *Config) StatsDir() string {
	if c.Game.InstallPath == "" {
		return ""
	}
	return filepath.Join(c.Game.InstallPath, "stats")
}

// IgnoredScenario reports whether a scenario name matches any privacy
// ignore pattern. Invalid patterns were rejected at load time; a pattern
// that still fails to match is skipped.
func (c *Config) IgnoredScenario(name string) bool {
	for _, pattern := range c.Privacy.Ignore {
		matched, err := doublestar.Match(pattern, name)
		if err != nil {
			slog.Warn("invalid ignore pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile             = "daemon.pid"
	ConfigFile          = "config.toml"
	LogFile             = "daemon.log"
	LedgerFile          = "local_scores.json"
	OnlineSnapshotFile  = "online_highscores.json"
	ValidationCacheFile = "scenario_validation_cache.json"
	CacheDir            = "cache"
	RawScoresDir        = "raw_scores"
)

// Extensions used by the cache layer.
const (
	// LockExt marks an advisory "fetch in progress" file next to a cache file.
	LockExt = ".lock"
	// BackupExt is appended to files that failed to parse before they are
	// replaced with an empty default.
	BackupExt = ".bak"
)

// BinaryName is the daemon executable name, also used for autostart entries.
const BinaryName = "kovaaksrpc"

// DataDirRel is the default data directory relative to $HOME.
const DataDirRel = ".kovaaksrpc"

// ReleaseManifest is the remote-fetched release manifest path (relative to
// the repository root).
const ReleaseManifest = ".release-manifest.json"

// UserCacheFile returns the per-user online score cache file name.
// Path separators in the username are flattened so the name stays inside
// the cache directory.
func UserCacheFile(username string) string {
	safe := []byte(username)
	for i, c := range safe {
		if c == '/' || c == '\\' {
			safe[i] = '_'
		}
	}
	return string(safe) + "_scores.json"
}

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Ledger returns the full path to the local score ledger file.
func (d DataDir) Ledger() string { return filepath.Join(d.Root, LedgerFile) }

// OnlineSnapshot returns the full path to the always-current online score
// snapshot file.
func (d DataDir) OnlineSnapshot() string { return filepath.Join(d.Root, OnlineSnapshotFile) }

// ValidationCache returns the full path to the scenario validation cache file.
func (d DataDir) ValidationCache() string { return filepath.Join(d.Root, ValidationCacheFile) }

// Cache returns the full path to the per-user online score cache directory.
func (d DataDir) Cache() string { return filepath.Join(d.Root, CacheDir) }

// RawScores returns the full path to the raw API page dump directory.
func (d DataDir) RawScores() string { return filepath.Join(d.Root, RawScoresDir) }

// UserCache returns the full path to the TTL cache file for a username.
func (d DataDir) UserCache(username string) string {
	return filepath.Join(d.Cache(), UserCacheFile(username))
}

// UserCacheLock returns the full path to the advisory lock file guarding the
// TTL cache for a username.
func (d DataDir) UserCacheLock(username string) string {
	return d.UserCache(username) + LockExt
}

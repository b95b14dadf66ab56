// Package main implements the KovaaK's RPC daemon, which tracks aim trainer
// sessions and scores and publishes Discord Rich Presence updates.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	rootpkg "github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/admission"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/config"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/discord"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/ledger"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/logger"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/monitor"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/paths"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/process"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/update"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/webapp"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically, so dev builds get a useful version string
// without needing git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags at build time it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file at [DataPaths.PID], acquires an
// advisory file lock, and writes "PID:TOKEN" content. The returned file handle
// must be kept open for the lifetime of the daemon to hold the lock; pass it to
// [removePID] on shutdown.
func writePID(dirs DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(dirs.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the advisory lock, closes the file handle, and removes the
// PID file only if the stored token matches, preventing accidental removal of a
// file owned by a different daemon instance.
func removePID(dirs DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dirs.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(dirs.PID())
	}
}

// checkStalePID checks whether another daemon instance is running. It attempts
// to acquire the advisory lock on the PID file; if the lock fails, another
// instance holds it. If the lock succeeds, any previous instance is dead and
// the stale file is cleaned up.
func checkStalePID(dirs DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(dirs.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dirs.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if len(parts) >= 1 {
			if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
				return true, p
			}
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead. Clean up stale file.
	_ = unlockFile(f)
	f.Close()
	os.Remove(dirs.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Default Directories
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for daemon data,
// typically ~/.kovaaksrpc. Falls back to ./.kovaaksrpc if the home directory
// cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+paths.BinaryName)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// localAppDataDir returns the directory the game writes its session save
// under: %LOCALAPPDATA% on Windows, ~/.local/share elsewhere (Proton maps
// the Windows path into the prefix, which the user points at via a symlink).
func localAppDataDir() string {
	if v := os.Getenv("LOCALAPPDATA"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share")
}

// detectInstallPath probes common Steam library locations for the game
// install directory. Returns empty when nothing with a stats subdirectory is
// found.
func detectInstallPath(steamPath string) string {
	var candidates []string
	if steamPath != "" {
		candidates = append(candidates,
			filepath.Join(filepath.Dir(steamPath), "steamapps", "common", "FPSAimTrainer", "FPSAimTrainer"))
	}
	if runtime.GOOS == "windows" {
		candidates = append(candidates,
			`C:\Program Files (x86)\Steam\steamapps\common\FPSAimTrainer\FPSAimTrainer`,
			`C:\Steam\steamapps\common\FPSAimTrainer\FPSAimTrainer`)
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".steam", "steam", "steamapps", "common", "FPSAimTrainer", "FPSAimTrainer"),
			filepath.Join(home, ".local", "share", "Steam", "steamapps", "common", "FPSAimTrainer", "FPSAimTrainer"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(filepath.Join(c, "stats")); err == nil && info.IsDir() {
			return c
		}
	}
	return ""
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, scores, and logs")
	installPath := flag.String("install-path", "", "FPSAimTrainer install directory (overrides config)")
	runImport := flag.Bool("import", false, "Import all existing stats files into the score ledger, then exit")
	runSync := flag.Bool("sync", false, "Sync online scores for the configured username, then exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	ver := resolveVersion()
	if *showVersion {
		fmt.Println(paths.BinaryName, ver)
		return
	}

	dirs := DataPaths{Root: *dataDir}

	if err := os.MkdirAll(dirs.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		os.Exit(1)
	}

	if alive, pid := checkStalePID(dirs); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		os.Exit(1)
	}

	if _, err := os.Stat(dirs.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(dirs.Config(), rootpkg.DefaultConfigTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(dirs.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}
	if *installPath != "" {
		cfg.Game.InstallPath = *installPath
	}
	if cfg.Game.InstallPath == "" {
		if detected := detectInstallPath(cfg.Game.SteamPath); detected != "" {
			cfg.Game.InstallPath = detected
		}
	}

	logLevel := logger.ParseLevel(cfg.Log.Level)
	log, logCloser, err := logger.NewLogger(dirs.Log(), logLevel, cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("kovaaksrpc starting", "version", ver, "data_dir", dirs.Root, "install_path", cfg.Game.InstallPath)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("update check panic", "error", r)
			}
		}()
		update.Check(ver)
	}()

	token := pidToken()
	pidFile, err := writePID(dirs, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		os.Exit(1)
	}
	defer removePID(dirs, token, pidFile)

	if cfg.Behavior.StartWithOS != process.AutostartEnabled() {
		if err := process.SetAutostart(cfg.Behavior.StartWithOS); err != nil {
			slog.Warn("failed to update autostart registration", "error", err)
		}
	}

	store := ledger.New(dirs.Ledger())
	web := webapp.New(cfg.Webapp.BaseURL, dirs)
	filter := admission.NewFilter(dirs.ValidationCache(), web)
	client := discord.NewClient(config.DefaultDiscordAppID)
	defer client.Close()
	bus := monitor.NewBus(16)

	mon := monitor.New(cfg, dirs.Root, localAppDataDir(), &process.GameDetector{}, client, store, web, filter, bus)

	if *runImport {
		count, importErr := mon.ImportStatsFolder()
		if importErr != nil {
			slog.Error("import failed", "error", importErr)
			os.Exit(1)
		}
		fmt.Printf("imported %d scenarios\n", count)
		return
	}

	if *runSync {
		if syncErr := mon.SyncOnlineScores(cfg.Webapp.Username); syncErr != nil {
			slog.Error("sync failed", "error", syncErr)
			os.Exit(1)
		}
		fmt.Println("online scores synced")
		return
	}

	go logEvents(bus)

	// Sync on startup when a username is configured, so the admission filter
	// and merged scores are warm before the first session.
	if cfg.Webapp.Username != "" {
		go func() {
			if syncErr := mon.SyncOnlineScores(cfg.Webapp.Username); syncErr != nil {
				slog.Warn("startup sync failed", "error", syncErr)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-signalChannel()
		slog.Info("received shutdown signal")
		cancel()
	}()

	if runErr := mon.Run(ctx); runErr != nil && runErr != context.Canceled {
		slog.Error("monitor stopped", "error", runErr)
		os.Exit(1)
	}
}

// logEvents drains the monitor event bus into the log.
func logEvents(bus *monitor.Bus) {
	for ev := range bus.Events() {
		switch ev.Kind {
		case monitor.EventScenarioChanged:
			if ev.Scenario == "" {
				slog.Debug("session ended")
			} else {
				slog.Debug("scenario changed", "scenario", ev.Scenario, "highscore", ev.Highscore)
			}
		case monitor.EventSyncProgress:
			slog.Info("sync progress", "message", ev.Message)
		case monitor.EventSyncComplete:
			slog.Info("sync complete", "success", ev.Success, "message", ev.Message)
		case monitor.EventToast:
			slog.Info(ev.Message)
		}
	}
}

// Unix start-with-OS via an XDG autostart desktop entry.

//go:build !windows

package process

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/paths"
)

// autostartEntryPath returns the XDG autostart desktop file location.
func autostartEntryPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home dir: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "autostart", paths.BinaryName+".desktop"), nil
}

// SetAutostart writes or removes the autostart desktop entry.
func SetAutostart(enable bool) error {
	path, err := autostartEntryPath()
	if err != nil {
		return err
	}

	if !enable {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing autostart entry: %w", err)
		}
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}
	entry := fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=KovaaK's Discord RPC
Exec=%s
X-GNOME-Autostart-enabled=true
`, exe)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating autostart dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(entry), 0o644); err != nil {
		return fmt.Errorf("writing autostart entry: %w", err)
	}
	return nil
}

// AutostartEnabled reports whether the autostart desktop entry exists.
func AutostartEnabled() bool {
	path, err := autostartEntryPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

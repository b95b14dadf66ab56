// Windows start-with-OS via the HKCU Run registry key.

//go:build windows

package process

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows/registry"
)

const (
	runKeyPath   = `Software\Microsoft\Windows\CurrentVersion\Run`
	runValueName = "KovaaksDiscordRPC"
)

// SetAutostart registers or removes the daemon in the current user's Run key.
func SetAutostart(enable bool) error {
	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("opening Run key: %w", err)
	}
	defer key.Close()

	if !enable {
		if err := key.DeleteValue(runValueName); err != nil && err != registry.ErrNotExist {
			return fmt.Errorf("removing autostart entry: %w", err)
		}
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}
	if err := key.SetStringValue(runValueName, fmt.Sprintf("%q", exe)); err != nil {
		return fmt.Errorf("writing autostart entry: %w", err)
	}
	return nil
}

// AutostartEnabled reports whether the Run key entry exists.
func AutostartEnabled() bool {
	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer key.Close()
	_, _, err = key.GetStringValue(runValueName)
	return err == nil
}

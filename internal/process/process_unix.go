// Unix process detection via the /proc filesystem.
//
// Each numeric /proc entry's comm file holds the executable name. Entries
// that disappear mid-scan (the process exited) are skipped silently.

//go:build !windows

package process

import (
	"os"
	"path/filepath"
	"strings"
)

func gameRunning() bool {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() || !isNumeric(entry.Name()) {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "comm"))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(comm))
		if !strings.Contains(strings.ToLower(name), "fpsaimtrainer") {
			continue
		}
		// comm truncates to 15 bytes, which can cut off a disqualifying
		// suffix; prefer the full command line when available.
		if cmdline, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline")); err == nil && len(cmdline) > 0 {
			argv0 := string(cmdline)
			if i := strings.IndexByte(argv0, 0); i >= 0 {
				argv0 = argv0[:i]
			}
			name = filepath.Base(argv0)
		}
		if isGameProcess(name) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Package process detects whether the game is running and manages the
// start-with-OS entry.
package process

import "strings"

// Detector reports game presence. The monitor takes this as an interface so
// tests can script presence transitions.
type Detector interface {
	IsRunning() bool
}

// GameDetector scans the OS process table for the game executable.
type GameDetector struct{}

// IsRunning reports whether a KovaaK's process is present.
func (GameDetector) IsRunning() bool {
	return gameRunning()
}

// isGameProcess matches process names against the game executable. The
// trainer binary is named FPSAimTrainer on every platform; our own process
// and other presence tools mention the same game, so anything carrying
// "discord" or "rpc" in its name is excluded.
func isGameProcess(name string) bool {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "fpsaimtrainer") {
		return false
	}
	if strings.Contains(lower, "discord") || strings.Contains(lower, "rpc") {
		return false
	}
	return true
}

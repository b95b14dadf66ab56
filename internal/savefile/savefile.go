// Package savefile reads the scenario name out of the game's session save.
//
// The save format is opaque, but the scenario name is always stored as a
// printable string immediately before a known byte marker. The file is
// copied aside before reading because the game keeps it open for writing.
package savefile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// UnknownScenario is returned when no scenario name can be extracted.
const UnknownScenario = "Unknown Scenario"

// markers precede the scenario name in the save file, in probe order.
var markers = [][]byte{
	[]byte("FullScenarioPath"),
	[]byte("LastEditProfile"),
}

// SessionSavePath returns the session save location under the game's local
// app data directory (LOCALAPPDATA on Windows, or an equivalent root).
func SessionSavePath(localAppData string) string {
	return filepath.Join(localAppData, "FPSAimTrainer", "Saved", "SaveGames", "session.sav")
}

// CurrentScenario extracts the active scenario name from the session save
// under localAppData. Returns [UnknownScenario] when the save is missing or
// carries no recognizable name; only a failed copy is an error.
func CurrentScenario(localAppData string) (string, error) {
	source := SessionSavePath(localAppData)
	if _, err := os.Stat(source); err != nil {
		return UnknownScenario, nil
	}

	// Copy aside so a mid-write save never tears under us.
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("reading session save: %w", err)
	}
	tmp, err := os.CreateTemp("", "session-*.sav")
	if err != nil {
		return "", fmt.Errorf("copying session save: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copying session save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("copying session save: %w", err)
	}

	copied, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", fmt.Errorf("reading session save copy: %w", err)
	}
	return ExtractScenarioName(copied), nil
}

// ExtractScenarioName scans save data for a marker and walks back over the
// printable ASCII run preceding it. Returns [UnknownScenario] when no marker
// or no preceding string exists.
func ExtractScenarioName(data []byte) string {
	pos := -1
	for _, marker := range markers {
		if i := bytes.Index(data, marker); i >= 0 {
			pos = i
			break
		}
	}
	if pos < 0 {
		return UnknownScenario
	}

	// Skip any non-printable bytes between the name and the marker.
	end := pos
	for end > 0 && !printable(data[end-1]) {
		end--
	}
	start := end - 1
	if start < 0 {
		start = 0
	}
	for start > 0 && printable(data[start]) {
		start--
	}
	start++
	if start >= end {
		return UnknownScenario
	}
	return string(data[start:end])
}

func printable(b byte) bool {
	return b >= 32 && b <= 126
}

// PlaylistShareCode scrapes the share code out of the in-progress playlist
// file under the game install. Returns empty when no playlist is active.
func PlaylistShareCode(installPath string) string {
	path := filepath.Join(installPath, "Saved", "SaveGames", "PlaylistInProgress.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	const key = `"shareCode": "`
	start := bytes.Index(data, []byte(key))
	if start < 0 {
		return ""
	}
	start += len(key)
	end := bytes.IndexByte(data[start:], '"')
	if end < 0 {
		return ""
	}
	return string(data[start : start+end])
}

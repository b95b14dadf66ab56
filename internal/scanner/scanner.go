// Package scanner reads Kovaaks per-attempt stats logs.
//
// Each attempt writes a "<Scenario> - <timestamp> Stats.csv" file into the
// game's stats directory. The files are ragged line-oriented CSV; the only
// line this package cares about carries the literal marker "Score:," with
// the score as the second comma-separated field. The scanner is strictly
// read-only: missing directories yield empty results and unreadable files
// are skipped, never surfaced as errors.
package scanner

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/scenario"
)

// scoreMarker identifies the stats line carrying the attempt score.
const scoreMarker = "Score:,"

// ///////////////////////////////////////////////
// Score Extraction
// ///////////////////////////////////////////////

// roundScore rounds to one decimal place to absorb floating-point noise in
// the source logs.
func roundScore(score float64) float64 {
	return math.Round(score*10) / 10
}

// fileMaxScore scans a single log file and returns the highest score among
// its marker lines along with whether any marker line parsed. Malformed
// lines are skipped.
func fileMaxScore(path string) (score float64, found bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, scoreMarker) {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			continue
		}
		found = true
		if v > score {
			score = v
		}
	}
	return score, found
}

// fileFirstScore returns the first marker-line score in a file, used by the
// bulk import which mirrors the one-score-per-attempt file layout.
func fileFirstScore(path string) (float64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, scoreMarker) {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// fileTime returns the best-available creation time for a stats log.
// Go exposes no portable birth time, so the modification time stands in;
// attempt logs are written once and never touched again, making the two
// equivalent in practice.
func fileTime(path string) *time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	t := info.ModTime()
	return &t
}

// ///////////////////////////////////////////////
// Per-Scenario Scans
// ///////////////////////////////////////////////

// FindInitialScores returns the maximum score across all stats logs for the
// given scenario, plus the set of filenames inspected. The set seeds the
// monitor's checked-files baseline so incremental scans skip these files.
// A missing directory yields (0, empty set).
func FindInitialScores(statsDir, scenarioName string) (float64, map[string]struct{}) {
	checked := make(map[string]struct{})
	prefix := scenarioName + " - "

	entries, err := os.ReadDir(statsDir)
	if err != nil {
		return 0, checked
	}

	var highscore float64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		if score, _ := fileMaxScore(filepath.Join(statsDir, name)); score > highscore {
			highscore = score
		}
		checked[name] = struct{}{}
	}
	return roundScore(highscore), checked
}

// FindNewScore scans stats logs for the scenario that are NOT in the checked
// set. Returns the maximum new score, whether any new log with a parseable
// score was seen, and the file time of the log holding that maximum. A file
// without a score marker contributes 0 and does not count as found.
func FindNewScore(statsDir, scenarioName string, checked map[string]struct{}) (float64, bool, *time.Time) {
	prefix := scenarioName + " - "

	entries, err := os.ReadDir(statsDir)
	if err != nil {
		return 0, false, nil
	}

	var (
		maxScore float64
		found    bool
		newest   *time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := checked[name]; ok {
			continue
		}
		path := filepath.Join(statsDir, name)
		score, ok := fileMaxScore(path)
		if !ok {
			continue
		}
		found = true
		if score > maxScore {
			maxScore = score
			newest = fileTime(path)
		}
	}
	return roundScore(maxScore), found, newest
}

// ///////////////////////////////////////////////
// Bulk Scan
// ///////////////////////////////////////////////

// Result is one scenario's outcome from a bulk stats folder scan.
type Result struct {
	// Score is the best score seen for the scenario.
	Score float64
	// PlayedAt is the modification time of the file holding that score.
	PlayedAt *time.Time
}

// ScanStatsFolderSince walks the entire stats directory and returns, per
// normalized scenario name, the single maximum score and its file time.
// Used for one-shot imports rather than incremental polling.
//
// since is a Unix-seconds floor on file modification time; files at or
// below it are skipped. Zero means no filtering.
func ScanStatsFolderSince(statsDir string, since int64) map[string]Result {
	results := make(map[string]Result)

	entries, err := os.ReadDir(statsDir)
	if err != nil {
		return results
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		path := filepath.Join(statsDir, name)

		if since > 0 {
			info, err := e.Info()
			if err != nil || info.ModTime().Unix() <= since {
				continue
			}
		}

		key := scenario.Normalize(scenario.FromStatsFilename(name))
		if key == "" {
			continue
		}

		score, ok := fileFirstScore(path)
		if !ok {
			score = 0
		}
		playedAt := fileTime(path)

		if existing, ok := results[key]; !ok || score > existing.Score {
			results[key] = Result{Score: score, PlayedAt: playedAt}
		}
	}
	return results
}

// LastPlayed returns the newest file time among the scenario's stats logs,
// or nil when none exist.
func LastPlayed(statsDir, scenarioName string) *time.Time {
	prefix := scenarioName + " - "

	entries, err := os.ReadDir(statsDir)
	if err != nil {
		return nil
	}

	var newest *time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		t := fileTime(filepath.Join(statsDir, name))
		if t != nil && (newest == nil || t.After(*newest)) {
			newest = t
		}
	}
	return newest
}

// Package ledger persists the best known score per scenario.
//
// The ledger is the single source of truth for presence display: local stats
// scans and online fetches both feed it through explicit merge operations, and
// a score is only ever replaced by a strictly greater one. The backing file is
// versioned JSON (see [CurrentVersion]) written atomically so a crash never
// leaves a partial file behind.
package ledger

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/atomicfile"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/migrate"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/paths"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/scanner"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/scenario"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// CurrentVersion is the latest ledger file schema version.
const CurrentVersion = 1

// Source records where a score came from.
type Source string

const (
	// SourceLocal marks a score observed in a local stats file.
	SourceLocal Source = "Local"
	// SourceOnline marks a score fetched from the leaderboard API.
	SourceOnline Source = "Online"
)

// ScenarioScore is one ledger entry. Highscore only ever increases; LastPlayed
// is nil for entries that were seeded from online data and never played here.
type ScenarioScore struct {
	ScenarioName string  `json:"scenario_name"`
	Highscore    float64 `json:"highscore"`
	LastPlayed   *int64  `json:"last_played,omitempty"`
	Source       Source  `json:"source"`
}

// File is the on-disk ledger schema.
type File struct {
	Version int                      `json:"version"`
	Scores  map[string]ScenarioScore `json:"scores"`
}

// defaultFile returns an empty ledger at the current schema version.
func defaultFile() *File {
	return &File{Version: CurrentVersion, Scores: map[string]ScenarioScore{}}
}

// Ledger owns the score file at a fixed path. All operations load the file
// fresh, mutate, and persist; the mutex keeps concurrent writers from
// interleaving load-modify-save cycles.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// New returns a Ledger backed by the file at path. The file is created lazily
// on the first write.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// ///////////////////////////////////////////////
// Load / Save
// ///////////////////////////////////////////////

// load reads and parses the ledger file. A missing, empty, or unreadable file
// yields an empty ledger; a corrupted one is renamed aside with
// [paths.BackupExt] and likewise treated as empty. Legacy challenge-suffixed
// keys are folded into their base scenario on load, keeping the higher score,
// and the fold triggers an immediate re-save.
func (l *Ledger) load() *File {
	data, err := os.ReadFile(l.path)
	if err != nil || len(data) == 0 {
		return defaultFile()
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		bakPath := l.path + paths.BackupExt
		slog.Warn("corrupted ledger file, backing up", "path", l.path, "backup", bakPath, "error", err)
		if rErr := os.Rename(l.path, bakPath); rErr != nil {
			slog.Warn("failed to back up corrupted ledger", "path", l.path, "error", rErr)
		}
		return defaultFile()
	}

	if f.Version == 0 {
		f.Version = 1
	}
	if migrate.Ledger.NeedsMigration(f.Version) {
		migrated, newVersion, err := migrate.Ledger.Run(data, f.Version)
		if err != nil {
			slog.Warn("ledger migration failed, starting fresh", "error", err)
			return defaultFile()
		}
		f = File{}
		if err := json.Unmarshal(migrated, &f); err != nil {
			slog.Warn("unmarshal of migrated ledger failed, starting fresh", "error", err)
			return defaultFile()
		}
		f.Version = newVersion
	}

	if f.Scores == nil {
		f.Scores = map[string]ScenarioScore{}
	}

	if l.normalizeKeys(&f) {
		if err := l.save(&f); err != nil {
			slog.Warn("failed to persist ledger key migration", "error", err)
		}
	}
	return &f
}

// normalizeKeys folds challenge-variant keys into their base scenario.
// Reports whether any key changed.
func (l *Ledger) normalizeKeys(f *File) bool {
	migrated := 0
	normalized := make(map[string]ScenarioScore, len(f.Scores))
	for oldName, score := range f.Scores {
		name := scenario.Normalize(oldName)
		if name != oldName {
			migrated++
			score.ScenarioName = name
		}
		if existing, ok := normalized[name]; !ok || score.Highscore > existing.Highscore {
			normalized[name] = score
		}
	}
	if migrated == 0 {
		return false
	}
	slog.Info("migrated legacy scenario keys in ledger", "count", migrated)
	f.Scores = normalized
	return true
}

func (l *Ledger) save(f *File) error {
	return atomicfile.WriteJSON(l.path, f, 0o600)
}

// ///////////////////////////////////////////////
// Write Operations
// ///////////////////////////////////////////////

// UpdateScore records a score for a scenario. The stored highscore, source,
// and last-played time are replaced only when newScore is strictly greater;
// otherwise only the last-played time is refreshed (when provided). Reports
// whether a new high score was recorded. The ledger is persisted either way
// so a played-time update from a losing run still lands on disk.
func (l *Ledger) UpdateScore(scenarioName string, newScore float64, lastPlayed *time.Time, source Source) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := scenario.Normalize(scenarioName)
	f := l.load()
	ts := unixPtr(lastPlayed)

	isNewHighscore := false
	if existing, ok := f.Scores[name]; ok {
		if newScore > existing.Highscore {
			existing.Highscore = newScore
			existing.LastPlayed = ts
			existing.Source = source
			isNewHighscore = true
		} else if ts != nil {
			existing.LastPlayed = ts
		}
		f.Scores[name] = existing
	} else {
		f.Scores[name] = ScenarioScore{
			ScenarioName: name,
			Highscore:    newScore,
			LastPlayed:   ts,
			Source:       source,
		}
		isNewHighscore = true
	}

	return isNewHighscore, l.save(f)
}

// PopulateFromStatsFolder bulk-merges the results of a stats folder scan,
// applying the same strictly-greater precedence as [Ledger.UpdateScore] with
// source Local. Returns the number of entries created or improved.
func (l *Ledger) PopulateFromStatsFolder(results map[string]scanner.Result) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.load()
	updated := 0
	for rawName, res := range results {
		name := scenario.Normalize(rawName)
		ts := unixPtr(res.PlayedAt)
		if existing, ok := f.Scores[name]; ok {
			if res.Score > existing.Highscore {
				existing.Highscore = res.Score
				existing.LastPlayed = ts
				existing.Source = SourceLocal
				f.Scores[name] = existing
				updated++
			} else if ts != nil && !int64PtrEqual(existing.LastPlayed, ts) {
				existing.LastPlayed = ts
				f.Scores[name] = existing
			}
			continue
		}
		f.Scores[name] = ScenarioScore{
			ScenarioName: name,
			Highscore:    res.Score,
			LastPlayed:   ts,
			Source:       SourceLocal,
		}
		updated++
	}

	return updated, l.save(f)
}

// MergeOnlineScores folds fetched leaderboard scores into the ledger. An
// online score only overwrites a stored one when strictly greater, so a higher
// local score is never downgraded. New entries are created with source Online
// and no last-played time. Returns the number of entries created or improved.
func (l *Ledger) MergeOnlineScores(online map[string]float64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.load()
	updated := 0
	for rawName, score := range online {
		name := scenario.Normalize(rawName)
		if existing, ok := f.Scores[name]; ok {
			if score > existing.Highscore {
				existing.Highscore = score
				existing.Source = SourceOnline
				f.Scores[name] = existing
				updated++
			}
			continue
		}
		f.Scores[name] = ScenarioScore{
			ScenarioName: name,
			Highscore:    score,
			Source:       SourceOnline,
		}
		updated++
	}

	return updated, l.save(f)
}

// ///////////////////////////////////////////////
// Read Accessors
// ///////////////////////////////////////////////

// AllScores returns a fresh copy of every ledger entry keyed by normalized
// scenario name.
func (l *Ledger) AllScores() map[string]ScenarioScore {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load().Scores
}

// Score returns the entry for a scenario, or nil when none is recorded.
func (l *Ledger) Score(scenarioName string) *ScenarioScore {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.load().Scores[scenario.Normalize(scenarioName)]; ok {
		return &s
	}
	return nil
}

// PlayedLocally reports whether a scenario has a recorded last-played time,
// i.e. at least one local run has been observed for it.
func (l *Ledger) PlayedLocally(scenarioName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.load().Scores[scenario.Normalize(scenarioName)]
	return ok && s.LastPlayed != nil
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ts := t.Unix()
	return &ts
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

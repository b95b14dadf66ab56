package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/paths"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/scanner"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(filepath.Join(t.TempDir(), paths.LedgerFile))
}

func timePtr(t time.Time) *time.Time { return &t }

func TestUpdateScoreCreatesAndImproves(t *testing.T) {
	l := newTestLedger(t)
	now := time.Now()

	isNew, err := l.UpdateScore("Gridshot", 100.5, timePtr(now), SourceLocal)
	if err != nil {
		t.Fatalf("UpdateScore: %v", err)
	}
	if !isNew {
		t.Error("first score should be a new highscore")
	}

	// Lower score: no highscore, but last_played refreshes.
	later := now.Add(time.Hour)
	isNew, err = l.UpdateScore("Gridshot", 50.0, timePtr(later), SourceLocal)
	if err != nil {
		t.Fatalf("UpdateScore: %v", err)
	}
	if isNew {
		t.Error("lower score must not count as a new highscore")
	}
	s := l.Score("Gridshot")
	if s == nil {
		t.Fatal("Score returned nil")
	}
	if s.Highscore != 100.5 {
		t.Errorf("Highscore = %v, want 100.5", s.Highscore)
	}
	if s.LastPlayed == nil || *s.LastPlayed != later.Unix() {
		t.Errorf("LastPlayed = %v, want %d", s.LastPlayed, later.Unix())
	}

	// Higher score replaces score, source, and timestamp.
	isNew, err = l.UpdateScore("Gridshot", 120.0, timePtr(now), SourceLocal)
	if err != nil {
		t.Fatalf("UpdateScore: %v", err)
	}
	if !isNew {
		t.Error("higher score should be a new highscore")
	}
	if s := l.Score("Gridshot"); s.Highscore != 120.0 {
		t.Errorf("Highscore = %v, want 120.0", s.Highscore)
	}
}

func TestUpdateScoreNormalizesChallengeVariant(t *testing.T) {
	l := newTestLedger(t)

	if _, err := l.UpdateScore("Gridshot", 100.0, nil, SourceLocal); err != nil {
		t.Fatal(err)
	}
	if _, err := l.UpdateScore("Gridshot - Challenge", 150.0, nil, SourceLocal); err != nil {
		t.Fatal(err)
	}

	all := l.AllScores()
	if len(all) != 1 {
		t.Fatalf("entries = %d, want challenge variant folded into one", len(all))
	}
	if all["Gridshot"].Highscore != 150.0 {
		t.Errorf("Highscore = %v, want 150.0", all["Gridshot"].Highscore)
	}
}

func TestMergeOnlineScores(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.UpdateScore("Gridshot", 200.0, timePtr(time.Now()), SourceLocal); err != nil {
		t.Fatal(err)
	}

	updated, err := l.MergeOnlineScores(map[string]float64{
		"Gridshot":    150.0, // lower than local, must not downgrade
		"Tile Frenzy": 300.0, // new entry
	})
	if err != nil {
		t.Fatalf("MergeOnlineScores: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}

	grid := l.Score("Gridshot")
	if grid.Highscore != 200.0 || grid.Source != SourceLocal {
		t.Errorf("local entry downgraded: %+v", grid)
	}
	tile := l.Score("Tile Frenzy")
	if tile == nil || tile.Highscore != 300.0 || tile.Source != SourceOnline {
		t.Errorf("online entry = %+v, want 300.0 from Online", tile)
	}
	if tile.LastPlayed != nil {
		t.Error("online-seeded entry must have no last_played")
	}
}

func TestPopulateFromStatsFolder(t *testing.T) {
	l := newTestLedger(t)
	now := time.Now()
	if _, err := l.UpdateScore("Gridshot", 500.0, nil, SourceLocal); err != nil {
		t.Fatal(err)
	}

	updated, err := l.PopulateFromStatsFolder(map[string]scanner.Result{
		"Gridshot":    {Score: 100.0, PlayedAt: timePtr(now)}, // lower, refreshes time only
		"Tile Frenzy": {Score: 42.0, PlayedAt: timePtr(now)},  // created
	})
	if err != nil {
		t.Fatalf("PopulateFromStatsFolder: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}
	grid := l.Score("Gridshot")
	if grid.Highscore != 500.0 {
		t.Errorf("Highscore = %v, want 500.0 preserved", grid.Highscore)
	}
	if grid.LastPlayed == nil || *grid.LastPlayed != now.Unix() {
		t.Errorf("LastPlayed = %v, want refreshed to %d", grid.LastPlayed, now.Unix())
	}
}

func TestPlayedLocally(t *testing.T) {
	l := newTestLedger(t)
	if _, err := l.MergeOnlineScores(map[string]float64{"Tile Frenzy": 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.UpdateScore("Gridshot", 50.0, timePtr(time.Now()), SourceLocal); err != nil {
		t.Fatal(err)
	}

	if !l.PlayedLocally("Gridshot") {
		t.Error("Gridshot was played locally")
	}
	if l.PlayedLocally("Tile Frenzy") {
		t.Error("online-only entry must not report as played locally")
	}
	if l.PlayedLocally("Unknown") {
		t.Error("missing entry must not report as played locally")
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), paths.LedgerFile)
	l := New(path)
	now := time.Now()
	if _, err := l.UpdateScore("Gridshot", 123.5, timePtr(now), SourceLocal); err != nil {
		t.Fatal(err)
	}
	if _, err := l.MergeOnlineScores(map[string]float64{"Tile Frenzy": 42}); err != nil {
		t.Fatal(err)
	}
	want := l.AllScores()

	// A second Ledger over the same file sees identical entries.
	got := New(path).AllScores()
	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}
	for name, w := range want {
		g, ok := got[name]
		if !ok {
			t.Fatalf("missing entry %q after reload", name)
		}
		if g.ScenarioName != w.ScenarioName || g.Highscore != w.Highscore || g.Source != w.Source {
			t.Errorf("entry %q = %+v, want %+v", name, g, w)
		}
		if (g.LastPlayed == nil) != (w.LastPlayed == nil) || (g.LastPlayed != nil && *g.LastPlayed != *w.LastPlayed) {
			t.Errorf("entry %q last_played = %v, want %v", name, g.LastPlayed, w.LastPlayed)
		}
	}
}

func TestFileShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), paths.LedgerFile)
	l := New(path)
	if _, err := l.UpdateScore("Gridshot", 100.0, nil, SourceLocal); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw struct {
		Version int `json:"version"`
		Scores  map[string]struct {
			ScenarioName string  `json:"scenario_name"`
			Highscore    float64 `json:"highscore"`
			LastPlayed   *int64  `json:"last_played"`
			Source       string  `json:"source"`
		} `json:"scores"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("ledger file is not valid JSON: %v", err)
	}
	if raw.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", raw.Version, CurrentVersion)
	}
	entry, ok := raw.Scores["Gridshot"]
	if !ok {
		t.Fatal("scores map missing Gridshot")
	}
	if entry.Source != "Local" {
		t.Errorf("source = %q, want string form Local", entry.Source)
	}
	if entry.LastPlayed != nil {
		t.Error("last_played should be omitted when unknown")
	}
}

func TestLoadMigratesLegacyKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), paths.LedgerFile)
	legacy := `{
  "version": 1,
  "scores": {
    "Gridshot - Challenge": {"scenario_name": "Gridshot - Challenge", "highscore": 150, "source": "Local"},
    "Gridshot": {"scenario_name": "Gridshot", "highscore": 100, "source": "Local"}
  }
}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	l := New(path)
	all := l.AllScores()
	if len(all) != 1 {
		t.Fatalf("entries = %d, want colliding legacy keys merged", len(all))
	}
	s := all["Gridshot"]
	if s.Highscore != 150 || s.ScenarioName != "Gridshot" {
		t.Errorf("merged entry = %+v, want highscore 150 under base name", s)
	}

	// The fold is persisted, not just in-memory.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.Scores["Gridshot - Challenge"]; ok {
		t.Error("legacy key still present on disk after migration")
	}
}

func TestLoadCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), paths.LedgerFile)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	l := New(path)
	if all := l.AllScores(); len(all) != 0 {
		t.Errorf("corrupted file should read as empty, got %v", all)
	}
	if _, err := os.Stat(path + paths.BackupExt); err != nil {
		t.Errorf("corrupted file was not backed up: %v", err)
	}

	// The ledger stays writable afterwards.
	if _, err := l.UpdateScore("Gridshot", 10, nil, SourceLocal); err != nil {
		t.Fatalf("UpdateScore after corruption: %v", err)
	}
}

func TestLoadMissingAndEmptyFile(t *testing.T) {
	dir := t.TempDir()
	if all := New(filepath.Join(dir, "absent.json")).AllScores(); len(all) != 0 {
		t.Errorf("missing file: got %v, want empty", all)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if all := New(empty).AllScores(); len(all) != 0 {
		t.Errorf("empty file: got %v, want empty", all)
	}
}

// Tests for stats log scanning: initial baseline, incremental exclusion,
// rounding, malformed lines, and the bulk import scan.
package scanner

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFindInitialScores(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "Gridshot - a.csv", "Kill #,Timestamp\nScore:,123.45,\n")
	writeLog(t, dir, "Gridshot - b.csv", "Score:,99.9,\n")
	// Different scenario, must be ignored.
	writeLog(t, dir, "Tile Frenzy - x.csv", "Score:,500.0,\n")
	// Matching prefix but not a csv.
	writeLog(t, dir, "Gridshot - notes.txt", "Score:,999.0,\n")

	score, checked := FindInitialScores(dir, "Gridshot")
	if score != 123.5 {
		t.Errorf("score = %v, want 123.5 (rounded)", score)
	}
	if len(checked) != 2 {
		t.Fatalf("checked = %v, want both Gridshot csv files", checked)
	}
	for _, name := range []string{"Gridshot - a.csv", "Gridshot - b.csv"} {
		if _, ok := checked[name]; !ok {
			t.Errorf("checked missing %q", name)
		}
	}
}

func TestFindInitialScoresMissingDir(t *testing.T) {
	score, checked := FindInitialScores(filepath.Join(t.TempDir(), "nope"), "Gridshot")
	if score != 0 || len(checked) != 0 {
		t.Errorf("missing dir should yield empty result, got (%v, %v)", score, checked)
	}
}

func TestFindInitialScoresMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "Gridshot - a.csv", "Score:,not-a-number,\nScore:\nScore:,88.25,\n")

	score, _ := FindInitialScores(dir, "Gridshot")
	if score != 88.3 {
		t.Errorf("score = %v, want 88.3", score)
	}
}

func TestFindNewScoreIncrementalExclusion(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "Gridshot - a.csv", "Score:,123.45,\n")
	writeLog(t, dir, "Gridshot - b.csv", "Score:,99.9,\n")

	_, checked := FindInitialScores(dir, "Gridshot")

	// Nothing new yet.
	score, found, at := FindNewScore(dir, "Gridshot", checked)
	if score != 0 || found || at != nil {
		t.Fatalf("no new files: got (%v, %v, %v)", score, found, at)
	}

	writeLog(t, dir, "Gridshot - c.csv", "Score:,200.0,\n")

	score, found, at = FindNewScore(dir, "Gridshot", checked)
	if score != 200.0 || !found {
		t.Fatalf("new file: got (%v, %v)", score, found)
	}
	if at == nil {
		t.Fatal("file time missing for new max")
	}
	if time.Since(*at) > time.Minute {
		t.Errorf("file time %v not recent", at)
	}

	// Re-running with c now checked yields nothing.
	checked["Gridshot - c.csv"] = struct{}{}
	score, found, at = FindNewScore(dir, "Gridshot", checked)
	if score != 0.0 || found || at != nil {
		t.Errorf("after exclusion: got (%v, %v, %v)", score, found, at)
	}
}

func TestFindNewScoreMarkerlessFileNotFound(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "Gridshot - a.csv", "Kill #,Timestamp\nno scores here\n")

	score, found, _ := FindNewScore(dir, "Gridshot", map[string]struct{}{})
	if score != 0 || found {
		t.Errorf("markerless file: got (%v, %v), want (0, false)", score, found)
	}
}

func TestScanStatsFolderSince(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "Gridshot - a.csv", "Score:,100.0,\n")
	writeLog(t, dir, "Gridshot - b.csv", "Score:,250.5,\n")
	writeLog(t, dir, "Gridshot - Challenge - c.csv", "Score:,300.0,\n")
	writeLog(t, dir, "Tile Frenzy - d.csv", "Score:,42.0,\n")
	writeLog(t, dir, "skip.txt", "Score:,9999.0,\n")

	results := ScanStatsFolderSince(dir, 0)
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 scenarios", results)
	}
	// Challenge variant folds into the base scenario, keeping the max.
	if got := results["Gridshot"].Score; got != 300.0 {
		t.Errorf("Gridshot score = %v, want 300.0", got)
	}
	if got := results["Tile Frenzy"].Score; got != 42.0 {
		t.Errorf("Tile Frenzy score = %v, want 42.0", got)
	}
	if results["Gridshot"].PlayedAt == nil {
		t.Error("PlayedAt missing")
	}
}

func TestScanStatsFolderSinceTimeFloor(t *testing.T) {
	dir := t.TempDir()
	old := writeLog(t, dir, "Gridshot - old.csv", "Score:,100.0,\n")
	past := time.Now().Add(-48 * time.Hour)
	os.Chtimes(old, past, past)
	writeLog(t, dir, "Tile Frenzy - new.csv", "Score:,50.0,\n")

	results := ScanStatsFolderSince(dir, time.Now().Add(-time.Hour).Unix())
	if _, ok := results["Gridshot"]; ok {
		t.Error("old file should be filtered by the time floor")
	}
	if _, ok := results["Tile Frenzy"]; !ok {
		t.Error("recent file should survive the time floor")
	}

	// Zero floor scans everything.
	all := ScanStatsFolderSince(dir, 0)
	if len(all) != 2 {
		t.Errorf("zero floor: got %d scenarios, want 2", len(all))
	}
}

func TestLastPlayed(t *testing.T) {
	dir := t.TempDir()
	if got := LastPlayed(dir, "Gridshot"); got != nil {
		t.Errorf("no files: got %v, want nil", got)
	}

	a := writeLog(t, dir, "Gridshot - a.csv", "Score:,1,\n")
	past := time.Now().Add(-time.Hour)
	os.Chtimes(a, past, past)
	writeLog(t, dir, "Gridshot - b.csv", "Score:,2,\n")

	got := LastPlayed(dir, "Gridshot")
	if got == nil {
		t.Fatal("expected a time")
	}
	if time.Since(*got) > time.Minute {
		t.Errorf("LastPlayed should pick the newest file, got %v", got)
	}
}

// write_test.go tests [Write] and [WriteJSON] for basic correctness,
// concurrent safety across distinct files, and cleanup of temp files.

package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestWriteBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	data := []byte("hello world")

	if err := Write(path, data, 0o644); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestWriteOverwriteExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overwrite.json")

	if err := Write(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	if err := Write(path, []byte("replaced"), 0o644); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "replaced" {
		t.Fatalf("got %q, want %q", got, "replaced")
	}
}

func TestWriteConcurrentDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	const n = 20

	// Each goroutine writes to its own file to avoid OS-level rename
	// contention (Windows does not permit atomic rename over a target
	// that is open by another process).
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			path := filepath.Join(dir, fmt.Sprintf("score-%d.json", i))
			if err := Write(path, []byte(fmt.Sprintf("writer-%d", i)), 0o644); err != nil {
				t.Errorf("concurrent Write %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("score-%d.json", i))
		got, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("ReadFile %d: %v", i, err)
			continue
		}
		if string(got) != fmt.Sprintf("writer-%d", i) {
			t.Errorf("file %d: got %q", i, got)
		}
	}

	// No temp files should remain.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if matched, _ := filepath.Match("*.tmp.*", e.Name()); matched {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteJSONPrettyPrints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "scores.json")

	v := map[string]float64{"Gridshot": 123.4}
	if err := WriteJSON(path, v, 0o644); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(raw), "\n  ") {
		t.Errorf("output not indented: %q", raw)
	}

	var got map[string]float64
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got["Gridshot"] != 123.4 {
		t.Errorf("round trip value = %v, want 123.4", got["Gridshot"])
	}
}

func TestWriteJSONUnmarshalableValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")

	if err := WriteJSON(path, func() {}, 0o644); err == nil {
		t.Fatal("expected error for unmarshalable value")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not exist after failed marshal")
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	// When version is set to something other than "dev", it should be returned as-is.
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	got := resolveVersion()
	if got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	// When version is "dev", resolveVersion falls through to debug.ReadBuildInfo.
	// In test binaries, ReadBuildInfo may or may not return VCS info.
	// We just verify it returns a non-empty string.
	original := version
	defer func() { version = original }()

	version = "dev"
	got := resolveVersion()
	if got == "" {
		t.Error("resolveVersion() returned empty string")
	}
	// It should either be "dev" (no VCS info) or "dev+<hash>" or "dev+<hash>.dirty".
	if !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

// ///////////////////////////////////////////////
// Directory Helper Tests
// ///////////////////////////////////////////////

func TestDefaultDataDir(t *testing.T) {
	dir := defaultDataDir()
	if dir == "" {
		t.Fatal("defaultDataDir() returned empty string")
	}
	if !strings.HasSuffix(dir, ".kovaaksrpc") {
		t.Errorf("defaultDataDir() = %q, want path ending in %q", dir, ".kovaaksrpc")
	}
}

func TestLocalAppDataDirFromEnv(t *testing.T) {
	t.Setenv("LOCALAPPDATA", `C:\Users\tester\AppData\Local`)
	if got := localAppDataDir(); got != `C:\Users\tester\AppData\Local` {
		t.Errorf("localAppDataDir() = %q", got)
	}
}

func TestDetectInstallPath(t *testing.T) {
	steamDir := t.TempDir()
	install := filepath.Join(steamDir, "steamapps", "common", "FPSAimTrainer", "FPSAimTrainer")
	if err := os.MkdirAll(filepath.Join(install, "stats"), 0o755); err != nil {
		t.Fatal(err)
	}

	got := detectInstallPath(filepath.Join(steamDir, "steam.exe"))
	if got != install {
		t.Errorf("detectInstallPath() = %q, want %q", got, install)
	}
}

func TestDetectInstallPathNoStats(t *testing.T) {
	steamDir := t.TempDir()
	// Install dir exists but has no stats subdirectory.
	install := filepath.Join(steamDir, "steamapps", "common", "FPSAimTrainer", "FPSAimTrainer")
	if err := os.MkdirAll(install, 0o755); err != nil {
		t.Fatal(err)
	}

	if got := detectInstallPath(filepath.Join(steamDir, "steam.exe")); got != "" {
		t.Errorf("detectInstallPath() = %q, want empty", got)
	}
}

// ///////////////////////////////////////////////
// pidToken Tests
// ///////////////////////////////////////////////

func TestPidToken_Unique(t *testing.T) {
	a := pidToken()
	b := pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
}

func TestPidToken_Length(t *testing.T) {
	tok := pidToken()
	if len(tok) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(tok))
	}
}

// ///////////////////////////////////////////////
// writePID / removePID Tests
// ///////////////////////////////////////////////

func TestWritePID_CreatesFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	if _, err := os.Stat(dp.PID()); os.IsNotExist(err) {
		t.Fatal("PID file was not created")
	}
}

func TestWritePID_FileContainsPID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	// Read through the open handle — on Windows the lock prevents os.ReadFile.
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	expected := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if string(data[:n]) != expected {
		t.Errorf("PID file content = %q, want %q", string(data[:n]), expected)
	}
}

func TestRemovePID_MatchingToken(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	removePID(dp, token, f)

	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("PID file should have been removed with matching token")
	}
}

func TestRemovePID_MismatchedToken(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	removePID(dp, "wrong-token", f)

	if _, err := os.Stat(dp.PID()); os.IsNotExist(err) {
		t.Error("PID file should NOT have been removed with mismatched token")
	}

	// Clean up the file that was intentionally kept.
	os.Remove(dp.PID())
}

func TestRemovePID_NilFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	// Should not panic with a nil file handle.
	removePID(dp, "any-token", nil)
}

// ///////////////////////////////////////////////
// checkStalePID Tests
// ///////////////////////////////////////////////

func TestCheckStalePID_NoFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	alive, pid := checkStalePID(dp)
	if alive {
		t.Error("checkStalePID() returned alive=true with no PID file")
	}
	if pid != 0 {
		t.Errorf("checkStalePID() pid = %d, want 0", pid)
	}
}

func TestCheckStalePID_StalePID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	// Write a PID file without holding a lock — simulates a dead process.
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	alive, pid := checkStalePID(dp)
	if alive {
		t.Error("checkStalePID() returned alive=true for stale PID")
	}
	if pid != 0 {
		t.Errorf("checkStalePID() pid = %d, want 0 for stale", pid)
	}

	// Stale PID file should have been cleaned up.
	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}

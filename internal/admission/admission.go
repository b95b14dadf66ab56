// Package admission decides whether a scenario should be tracked at all.
//
// With the online-only setting enabled, only scenarios that exist on the
// leaderboards are admitted. Verdicts from remote lookups are cached
// permanently in a small JSON file so each scenario costs at most one
// round-trip. Until an online baseline exists the filter stays permissive:
// it only starts hiding scenarios once scores have been synced at least once.
package admission

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/atomicfile"
)

// Searcher is the remote lookup used to settle uncached scenarios.
// *webapp.Client satisfies it.
type Searcher interface {
	SearchScenarioPopular(scenarioName string) (bool, error)
}

// Filter holds the persisted per-scenario verdicts.
type Filter struct {
	mu       sync.Mutex
	path     string
	cache    map[string]bool
	searcher Searcher
}

// NewFilter loads the validation cache at path. A missing or unreadable cache
// starts empty.
func NewFilter(path string, searcher Searcher) *Filter {
	f := &Filter{
		path:     path,
		cache:    map[string]bool{},
		searcher: searcher,
	}
	f.load()
	return f
}

func (f *Filter) load() {
	data, err := os.ReadFile(f.path)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return
	}
	var cache map[string]bool
	if err := json.Unmarshal(data, &cache); err != nil {
		slog.Warn("unreadable validation cache, starting empty", "path", f.path, "error", err)
		return
	}
	f.cache = cache
}

func (f *Filter) insert(scenarioName string, verdict bool) {
	f.cache[scenarioName] = verdict
	if err := atomicfile.WriteJSON(f.path, f.cache, 0o600); err != nil {
		slog.Warn("failed to persist validation cache", "path", f.path, "error", err)
	}
}

// Len returns the number of cached verdicts.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}

// Allowed reports whether the scenario should be tracked. onlineScores is the
// already-fetched score set for the configured user, and synced reports
// whether an online baseline exists yet.
//
// The decision chain: online-only off admits everything; a cached verdict is
// final; presence in onlineScores admits and caches; without a synced
// baseline the filter is permissive; otherwise a single popularity search
// settles the verdict permanently. Transport failures admit the scenario
// rather than hiding it, and are not cached.
func (f *Filter) Allowed(scenarioName string, onlineOnly bool, onlineScores map[string]float64, synced bool) bool {
	if !onlineOnly {
		return true
	}

	f.mu.Lock()
	if verdict, ok := f.cache[scenarioName]; ok {
		f.mu.Unlock()
		return verdict
	}
	if _, ok := onlineScores[scenarioName]; ok {
		f.insert(scenarioName, true)
		f.mu.Unlock()
		return true
	}
	f.mu.Unlock()

	if !synced {
		slog.Info("no online baseline yet, admitting scenario", "scenario", scenarioName)
		return true
	}

	available, err := f.searcher.SearchScenarioPopular(scenarioName)
	if err != nil {
		slog.Warn("scenario search failed, admitting scenario", "scenario", scenarioName, "error", err)
		return true
	}

	f.mu.Lock()
	f.insert(scenarioName, available)
	f.mu.Unlock()
	return available
}

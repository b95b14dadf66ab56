// Package monitor drives the session tracking loop.
//
// Once per tick it detects game presence transitions, resolves the active
// scenario from the session save, filters it through the privacy globs and
// the admission filter, runs the log scanner, feeds new scores into the
// ledger, and pushes the result to Discord. An online sync can run in the
// background; while it does, the loop backs off to short ticks and leaves
// the ledger alone.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/admission"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/config"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/ledger"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/process"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/savefile"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/scanner"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/scenario"
)

// ///////////////////////////////////////////////
// Collaborator Interfaces
// ///////////////////////////////////////////////

// Presence is the broadcast surface the monitor drives. *discord.Client
// satisfies it.
type Presence interface {
	Connect() error
	Connected() bool
	UpdatePresence(scenarioName string, start int64, highscore, sessionBest float64, shareCode string) error
	ClearPresence() error
}

// ScoreFetcher fetches a user's online scores. *webapp.Client satisfies it.
type ScoreFetcher interface {
	FetchUserScores(username string) (map[string]float64, error)
}

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State is the monitor's coarse mode.
type State int

const (
	// StateIdle means the game is not running; the loop only watches for it.
	StateIdle State = iota
	// StateTracking means the game is running and scores are being tracked.
	StateTracking
)

// SessionState is the ephemeral per-game-run tracking state. It is reset on
// every Idle to Tracking transition and rebuilt from the ledger's cached
// scores on each scenario change.
type SessionState struct {
	// CurrentScenario is the normalized name being tracked, empty when none.
	CurrentScenario string
	// LocalHighscore is the best known score for the current scenario.
	LocalHighscore float64
	// SessionHighscore is the best score achieved this session for the
	// current scenario.
	SessionHighscore float64
	// StartAnchor is the Unix timestamp shown as the presence elapsed timer.
	StartAnchor int64
	// CheckedFiles holds the log file names already attributed, so a run is
	// never counted twice.
	CheckedFiles map[string]struct{}
	// SessionBests tracks the best session score per scenario.
	SessionBests map[string]float64
}

// Monitor polls the game and keeps ledger and presence in sync.
type Monitor struct {
	cfg      *config.Config
	dataDir  string
	detector process.Detector
	presence Presence
	store    *ledger.Ledger
	online   ScoreFetcher
	filter   *admission.Filter
	events   *Bus

	// currentScenario resolves the active scenario name. Defaults to reading
	// the session save; swapped out in tests.
	currentScenario func() (string, error)
	// shareCode resolves the active playlist share code for the presence
	// button.
	shareCode func() string
	// findInitialScores and findNewScore are the stats-dir scans, indirected
	// so tests can script them. Both run without the session lock held.
	findInitialScores func(statsDir, scenarioName string) (float64, map[string]struct{})
	findNewScore      func(statsDir, scenarioName string, checked map[string]struct{}) (float64, bool, *time.Time)

	mu           sync.Mutex
	state        State
	session      SessionState
	scoreCache   map[string]ledger.ScenarioScore
	onlineScores map[string]float64

	syncInProgress atomic.Bool

	// Tick timings, shrunk in tests.
	tickInterval    time.Duration
	syncBackoff     time.Duration
	scenarioBackoff time.Duration
}

// New assembles a Monitor from its collaborators. localAppData is the root
// the game writes its session save under.
func New(cfg *config.Config, dataDir, localAppData string, detector process.Detector, presence Presence, store *ledger.Ledger, online ScoreFetcher, filter *admission.Filter, events *Bus) *Monitor {
	m := &Monitor{
		cfg:             cfg,
		dataDir:         dataDir,
		detector:        detector,
		presence:        presence,
		store:           store,
		online:          online,
		filter:          filter,
		events:          events,
		scoreCache:      store.AllScores(),
		onlineScores:    map[string]float64{},
		tickInterval:    time.Duration(cfg.Behavior.PollIntervalSeconds) * time.Second,
		syncBackoff:     time.Second,
		scenarioBackoff: 5 * time.Second,
	}
	m.currentScenario = func() (string, error) {
		return savefile.CurrentScenario(localAppData)
	}
	m.shareCode = func() string {
		return savefile.PlaylistShareCode(cfg.Game.InstallPath)
	}
	m.findInitialScores = scanner.FindInitialScores
	m.findNewScore = scanner.FindNewScore
	return m
}

// State returns the monitor's current mode.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the current session state.
func (m *Monitor) Session() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// ///////////////////////////////////////////////
// Run Loop
// ///////////////////////////////////////////////

// Run ticks until ctx is cancelled. A stats-dir watcher wakes the loop early
// when a new score log lands; the ticker remains authoritative.
func (m *Monitor) Run(ctx context.Context) error {
	var wake <-chan struct{}
	if dir := m.cfg.StatsDir(); dir != "" {
		watcher, err := NewStatsWatcher(dir)
		if err == nil {
			defer watcher.Close()
			wake = watcher.Events()
		} else {
			slog.Warn("stats watcher unavailable", "error", err)
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(m.Tick())
	}
}

// Tick runs one iteration of the monitoring loop and returns how long to wait
// before the next one.
func (m *Monitor) Tick() time.Duration {
	if m.syncInProgress.Load() {
		return m.syncBackoff
	}

	running := m.detector.IsRunning()
	m.mu.Lock()
	wasRunning := m.state == StateTracking
	m.mu.Unlock()

	if !running {
		if wasRunning {
			m.onGameExit()
		}
		return m.tickInterval
	}

	if !wasRunning {
		m.onGameStart()
	}

	if !m.presence.Connected() {
		if err := m.presence.Connect(); err != nil {
			slog.Debug("presence connect failed, backing off", "error", err)
			return m.scenarioBackoff
		}
	}

	name, err := m.currentScenario()
	if err != nil {
		slog.Debug("scenario resolution failed, backing off", "error", err)
		return m.scenarioBackoff
	}
	name = scenario.Normalize(name)
	if name == "" || name == savefile.UnknownScenario {
		return m.scenarioBackoff
	}
	if m.cfg.IgnoredScenario(name) {
		return m.scenarioBackoff
	}
	if !m.filter.Allowed(name, m.cfg.Behavior.OnlineOnlyScenarios, m.snapshotOnlineScores(), m.cfg.Webapp.ScoresSynced) {
		return m.scenarioBackoff
	}

	m.mu.Lock()
	changed := name != m.session.CurrentScenario
	m.mu.Unlock()
	if changed {
		m.switchScenario(name)
	}
	m.scanIncremental(name)

	m.mu.Lock()
	highscore := m.session.LocalHighscore
	sessionBest := m.session.SessionHighscore
	anchor := m.session.StartAnchor
	m.mu.Unlock()

	if err := m.presence.UpdatePresence(name, anchor, highscore, sessionBest, m.shareCode()); err != nil {
		slog.Warn("presence update failed", "scenario", name, "error", err)
	}
	return m.tickInterval
}

// onGameStart handles the Idle to Tracking transition: fresh session state
// and a new elapsed-timer anchor.
func (m *Monitor) onGameStart() {
	slog.Info("game detected, tracking session")
	m.mu.Lock()
	m.state = StateTracking
	m.session = SessionState{
		StartAnchor:  time.Now().Unix(),
		CheckedFiles: map[string]struct{}{},
		SessionBests: map[string]float64{},
	}
	m.mu.Unlock()
}

// onGameExit handles the Tracking to Idle transition: clear presence, wipe
// the scenario, and tell listeners the scenario is gone.
func (m *Monitor) onGameExit() {
	slog.Info("game exited, going idle")
	if err := m.presence.ClearPresence(); err != nil {
		slog.Warn("presence clear failed", "error", err)
	}
	m.mu.Lock()
	m.state = StateIdle
	m.session.CurrentScenario = ""
	m.session.LocalHighscore = 0
	m.session.SessionHighscore = 0
	m.mu.Unlock()
	m.events.Publish(Event{Kind: EventScenarioChanged})
}

// switchScenario moves tracking to a new scenario: seed the highscore from
// the cached ledger snapshot and the session best from this session's
// record, then run a baseline scan to catch any on-disk score the cache
// missed. The directory scan and the ledger write happen without the session
// lock held; only the tick goroutine mutates session state, so the unlocked
// window cannot race another writer.
func (m *Monitor) switchScenario(name string) {
	m.mu.Lock()
	highscore := m.scoreCache[name].Highscore
	sessionBest := m.session.SessionBests[name]
	m.mu.Unlock()

	initial, files := m.findInitialScores(m.cfg.StatsDir(), name)
	if initial > highscore {
		highscore = initial
		if _, err := m.store.UpdateScore(name, initial, nil, ledger.SourceLocal); err != nil {
			slog.Warn("failed to record baseline score", "scenario", name, "error", err)
		}
	}

	m.mu.Lock()
	m.session.CurrentScenario = name
	m.session.LocalHighscore = highscore
	m.session.SessionHighscore = sessionBest
	m.session.CheckedFiles = files
	m.mu.Unlock()

	slog.Info("scenario changed", "scenario", name, "highscore", highscore)
	m.events.Publish(Event{
		Kind:        EventScenarioChanged,
		Scenario:    name,
		Highscore:   highscore,
		SessionBest: sessionBest,
	})
}

// scanIncremental looks for score logs not yet attributed. A new score
// always refreshes the checked-files baseline so the same log is never
// counted twice; it bumps the session best when it beats it, and lands in
// the ledger when it beats the stored highscore. The checked-files set is
// cloned under the lock so the scans run unlocked.
func (m *Monitor) scanIncremental(name string) {
	m.mu.Lock()
	checked := make(map[string]struct{}, len(m.session.CheckedFiles))
	for f := range m.session.CheckedFiles {
		checked[f] = struct{}{}
	}
	localHigh := m.session.LocalHighscore
	m.mu.Unlock()

	statsDir := m.cfg.StatsDir()
	newScore, found, playedAt := m.findNewScore(statsDir, name, checked)
	if !found || newScore <= 0 {
		return
	}

	_, files := m.findInitialScores(statsDir, name)

	// The ledger replaces the highscore only when beaten and otherwise just
	// refreshes the last-played time, so every run goes through it.
	if _, err := m.store.UpdateScore(name, newScore, playedAt, ledger.SourceLocal); err != nil {
		slog.Warn("failed to record score", "scenario", name, "error", err)
	}
	var cache map[string]ledger.ScenarioScore
	if newScore > localHigh {
		cache = m.store.AllScores()
		slog.Info("new highscore", "scenario", name, "score", newScore)
	}

	m.mu.Lock()
	m.session.CheckedFiles = files
	if newScore > m.session.SessionBests[name] {
		m.session.SessionBests[name] = newScore
		m.session.SessionHighscore = newScore
	}
	if newScore > m.session.LocalHighscore {
		m.session.LocalHighscore = newScore
	}
	if cache != nil {
		m.scoreCache = cache
	}
	m.mu.Unlock()
}

// snapshotOnlineScores returns the currently loaded online scores.
func (m *Monitor) snapshotOnlineScores() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onlineScores
}

// ///////////////////////////////////////////////
// Sync and Import
// ///////////////////////////////////////////////

// SyncOnlineScores fetches the user's online scores and merges them into the
// ledger. While it runs the tick loop backs off and skips ledger writes.
// Callers run it in a goroutine when they don't want to block; completion is
// reported on the event bus either way.
func (m *Monitor) SyncOnlineScores(username string) error {
	if username == "" {
		m.events.Publish(Event{Kind: EventToast, Message: "Set a webapp username before syncing"})
		return fmt.Errorf("username is empty")
	}
	if !m.syncInProgress.CompareAndSwap(false, true) {
		return fmt.Errorf("sync already in progress")
	}
	defer m.syncInProgress.Store(false)

	m.events.Publish(Event{Kind: EventSyncProgress, Message: "Fetching online scores for " + username})

	scores, err := m.online.FetchUserScores(username)
	if err != nil {
		m.events.Publish(Event{Kind: EventSyncComplete, Success: false, Message: "Sync failed: " + err.Error()})
		return fmt.Errorf("fetching online scores: %w", err)
	}

	merged, err := m.store.MergeOnlineScores(scores)
	if err != nil {
		m.events.Publish(Event{Kind: EventSyncComplete, Success: false, Message: "Failed to merge scores: " + err.Error()})
		return fmt.Errorf("merging online scores: %w", err)
	}

	m.mu.Lock()
	m.onlineScores = scores
	m.scoreCache = m.store.AllScores()
	m.mu.Unlock()

	m.cfg.Webapp.ScoresSynced = true
	m.cfg.Webapp.LastSyncTime = time.Now().Unix()
	if err := m.cfg.Save(m.dataDir); err != nil {
		slog.Warn("failed to persist sync state", "error", err)
	}

	slog.Info("online sync complete", "username", username, "scenarios", len(scores), "merged", merged)
	m.events.Publish(Event{Kind: EventSyncComplete, Success: true, Message: fmt.Sprintf("Synced %d scenarios", len(scores))})
	return nil
}

// ImportStatsFolder bulk-scans the whole stats directory into the ledger.
// Returns the number of scenarios created or improved.
func (m *Monitor) ImportStatsFolder() (int, error) {
	statsDir := m.cfg.StatsDir()
	if statsDir == "" {
		return 0, fmt.Errorf("no install path configured")
	}

	results := scanner.ScanStatsFolderSince(statsDir, 0)
	count, err := m.store.PopulateFromStatsFolder(results)
	if err != nil {
		return 0, fmt.Errorf("importing stats folder: %w", err)
	}

	m.mu.Lock()
	m.scoreCache = m.store.AllScores()
	m.mu.Unlock()

	m.events.Publish(Event{Kind: EventToast, Message: fmt.Sprintf("Imported %d scenarios", len(results))})
	return count, nil
}

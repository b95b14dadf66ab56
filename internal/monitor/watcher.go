package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Stats Watcher
// ///////////////////////////////////////////////

// StatsWatcher monitors the stats directory for new score logs using fsnotify
// with a polling fallback. It exists to wake the monitor loop early after a
// run finishes; the tick timer remains authoritative, so a missed event only
// delays score pickup by one poll interval.
type StatsWatcher struct {
	// dir is the stats directory being monitored.
	dir string
	// events delivers a signal each time a score log lands.
	// The channel is buffered to 1 so back-to-back writes coalesce.
	events chan struct{}
	// done is closed by [StatsWatcher.Close] to signal goroutines to exit.
	done chan struct{}
	// fsw is the underlying fsnotify watcher; nil when polling.
	fsw *fsnotify.Watcher
	// once ensures [StatsWatcher.Close] is idempotent.
	once sync.Once
	// polling is true when the watcher has fallen back to stat-based polling.
	polling atomic.Bool
	// pollInterval is the duration between directory scans in polling mode.
	pollInterval time.Duration
}

// NewStatsWatcher creates a StatsWatcher for the given stats directory.
// fsnotify is the primary mechanism; if the directory cannot be watched
// (missing, or the platform lacks inotify) it falls back to polling.
func NewStatsWatcher(dir string) (*StatsWatcher, error) {
	w := &StatsWatcher{
		dir:          dir,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: 2 * time.Second,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to stats polling", "error", err)
		w.polling.Store(true)
		go w.poll()
		return w, nil
	}

	w.fsw = fsw
	if err := fsw.Add(dir); err != nil {
		slog.Info("cannot watch stats dir, falling back to polling", "dir", dir, "error", err)
		fsw.Close()
		w.fsw = nil
		w.polling.Store(true)
		go w.poll()
		return w, nil
	}

	go w.watch()
	return w, nil
}

// isScoreLog reports whether name looks like a per-attempt score log.
func isScoreLog(name string) bool {
	return strings.HasSuffix(strings.ToLower(filepath.Base(name)), ".csv")
}

// watch loops over fsnotify events, forwarding write/create notifications for
// score logs. On an fsnotify error the native watcher is dropped and polling
// takes over.
func (w *StatsWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && isScoreLog(event.Name) {
				w.notify()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to stats polling", "error", err)
			w.fsw.Close()
			w.fsw = nil
			w.polling.Store(true)
			go w.poll()
			return
		}
	}
}

// poll periodically scans the directory and notifies when the newest score
// log's modification time advances.
func (w *StatsWatcher) poll() {
	lastMod := w.latestLogMod()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			mod := w.latestLogMod()
			if mod.After(lastMod) {
				lastMod = mod
				w.notify()
			}
		}
	}
}

// latestLogMod returns the most recent modification time among score logs in
// the watched directory.
func (w *StatsWatcher) latestLogMod() time.Time {
	var latest time.Time
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return latest
	}
	for _, e := range entries {
		if e.IsDir() || !isScoreLog(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *StatsWatcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when a score log changes.
func (w *StatsWatcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and releases resources.
func (w *StatsWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
	})
	return err
}

// notify sends a single signal to the events channel. If a signal is already
// pending the call is a no-op, coalescing rapid successive changes.
func (w *StatsWatcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
		// Channel already has a pending event, skip
	}
}

// Package webapp talks to the KovaaK's leaderboard backend and caches what it
// fetches.
//
// Fetched scores live in two places: a per-user TTL cache (refetched after
// seven days) and an always-current snapshot file used for fast offline
// lookups. Concurrent fetches for the same user are serialized through an
// advisory lock file next to the cache, so two daemon threads never page
// through the API at the same time.
package webapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/atomicfile"
	"github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/paths"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

const (
	// cacheTTL is how long a per-user cache entry stays fresh.
	cacheTTL = 7 * 24 * time.Hour
	// pageSize is the number of entries requested per API page.
	pageSize = 100
	// maxPages caps pagination at roughly 2000 entries.
	maxPages = 20
)

// httpClient is a lazily-initialized retryablehttp client shared across all
// leaderboard fetches. Initialized once via httpClientOnce.
var (
	httpClient     *retryablehttp.Client
	httpClientOnce sync.Once
)

// getHTTPClient returns the shared retryable HTTP client, initializing it on
// first call.
func getHTTPClient() *retryablehttp.Client {
	httpClientOnce.Do(func() {
		httpClient = retryablehttp.NewClient()
		httpClient.RetryMax = 2
		httpClient.HTTPClient.Timeout = 30 * time.Second
		httpClient.Logger = nil // suppress retryablehttp's default logging
	})
	return httpClient
}

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// cacheData is the per-user TTL cache file schema.
type cacheData struct {
	FetchedAt int64              `json:"fetched_at"`
	Scores    map[string]float64 `json:"scores"`
}

// snapshotData is the always-current online score snapshot file schema.
type snapshotData struct {
	Username    string             `json:"username"`
	LastUpdated int64              `json:"last_updated"`
	Scores      map[string]float64 `json:"scores"`
}

// scoreEntry is one row of the total-play API response. The score may arrive
// at the top level or nested under attributes; the first present value wins.
type scoreEntry struct {
	ScenarioName string          `json:"scenarioName"`
	Score        *float64        `json:"score"`
	Attributes   attributesField `json:"attributes"`
}

// attributesField tolerates the API's loose typing: attributes may be an
// object, boolean false, or null. Anything that is not an object reads as
// no nested score.
type attributesField struct {
	Score *float64
}

func (a *attributesField) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	a.Score = obj.Score
	return nil
}

// scoreValue returns the entry's score, probing top-level then attributes.
func (e *scoreEntry) scoreValue() (float64, bool) {
	if e.Score != nil {
		return *e.Score, true
	}
	if e.Attributes.Score != nil {
		return *e.Attributes.Score, true
	}
	return 0, false
}

// Client fetches and caches online scores for a single backend.
type Client struct {
	baseURL string
	dirs    paths.DataDir

	// Overridable in tests to keep polling and pacing fast.
	lockWaitTotal time.Duration
	lockWaitStep  time.Duration
	pagePacing    time.Duration
}

// New returns a Client rooted at the given data directory. An empty baseURL
// falls back to the public backend.
func New(baseURL string, dirs paths.DataDir) *Client {
	if baseURL == "" {
		baseURL = "https://kovaaks.com/webapp-backend"
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		dirs:          dirs,
		lockWaitTotal: 5 * time.Second,
		lockWaitStep:  200 * time.Millisecond,
		pagePacing:    100 * time.Millisecond,
	}
}

// ///////////////////////////////////////////////
// TTL Cache
// ///////////////////////////////////////////////

// loadCache returns the cached scores for a user, or nil when the cache is
// missing, unparseable, or older than the TTL.
func (c *Client) loadCache(username string) map[string]float64 {
	data, err := os.ReadFile(c.dirs.UserCache(username))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var cache cacheData
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	if time.Since(time.Unix(cache.FetchedAt, 0)) >= cacheTTL {
		return nil
	}
	return cache.Scores
}

// saveCache writes the TTL cache for a user. Failures are logged, not fatal.
func (c *Client) saveCache(username string, scores map[string]float64) {
	cache := cacheData{FetchedAt: time.Now().Unix(), Scores: scores}
	if err := atomicfile.WriteJSON(c.dirs.UserCache(username), cache, 0o600); err != nil {
		slog.Warn("failed to write score cache", "username", username, "error", err)
	}
}

// ///////////////////////////////////////////////
// Snapshot File
// ///////////////////////////////////////////////

// LoadLocalScores reads the online score snapshot. A corrupted snapshot is
// renamed aside and treated as empty.
func (c *Client) LoadLocalScores() map[string]float64 {
	path := c.dirs.OnlineSnapshot()
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]float64{}
	}
	var snap snapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		bakPath := path + paths.BackupExt
		slog.Warn("corrupted online snapshot, backing up", "path", path, "error", err)
		if rErr := os.Rename(path, bakPath); rErr != nil {
			slog.Warn("failed to back up snapshot", "path", path, "error", rErr)
		}
		return map[string]float64{}
	}
	if snap.Scores == nil {
		return map[string]float64{}
	}
	return snap.Scores
}

// SaveLocalScores replaces the online score snapshot.
func (c *Client) SaveLocalScores(scores map[string]float64, username string) error {
	snap := snapshotData{
		Username:    username,
		LastUpdated: time.Now().Unix(),
		Scores:      scores,
	}
	return atomicfile.WriteJSON(c.dirs.OnlineSnapshot(), snap, 0o600)
}

// UpdateLocalScore bumps a single scenario in the snapshot when newScore beats
// the stored value. Reports whether the snapshot changed.
func (c *Client) UpdateLocalScore(scenarioName string, newScore float64, username string) bool {
	scores := c.LoadLocalScores()
	if newScore <= scores[scenarioName] {
		return false
	}
	scores[scenarioName] = newScore
	if err := c.SaveLocalScores(scores, username); err != nil {
		slog.Warn("failed to update online snapshot", "scenario", scenarioName, "error", err)
	}
	return true
}

// ///////////////////////////////////////////////
// Fetching
// ///////////////////////////////////////////////

// FetchUserScores returns the scenario scores for a user, serving from the TTL
// cache when fresh. On a cache miss it takes the advisory lock, fetches, and
// writes both the cache and the snapshot. If another fetch holds the lock, it
// polls for the cache to appear instead of fetching twice; when neither the
// lock nor the cache resolves within the wait window, it returns an empty map.
func (c *Client) FetchUserScores(username string) (map[string]float64, error) {
	if username == "" {
		return map[string]float64{}, nil
	}
	if cached := c.loadCache(username); cached != nil {
		return cached, nil
	}

	lockPath := c.dirs.UserCacheLock(username)
	locked, scores := c.acquireLock(username, lockPath)
	if scores != nil {
		return scores, nil
	}
	if locked {
		defer func() {
			if err := os.Remove(lockPath); err != nil {
				slog.Warn("failed to release cache lock", "path", lockPath, "error", err)
			}
		}()
	}

	fetched, err := c.SyncOnce(username)
	if err != nil {
		// Partial results are returned but never cached, so the next call
		// retries the full fetch.
		return fetched, err
	}
	c.saveCache(username, fetched)
	if sErr := c.SaveLocalScores(fetched, username); sErr != nil {
		slog.Warn("failed to write online snapshot", "username", username, "error", sErr)
	}
	return fetched, nil
}

// acquireLock attempts to create the advisory lock file. When the lock is
// already held it polls for the cache file to materialize; a populated cache
// short-circuits the fetch entirely. Returns (locked, cachedScores): when
// cachedScores is non-nil the caller should return it directly, and when
// locked is false with nil scores the fetch proceeds unguarded as a fallback.
func (c *Client) acquireLock(username, lockPath string) (bool, map[string]float64) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		slog.Warn("failed to create cache dir", "path", lockPath, "error", err)
	}
	tryCreate := func() bool {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return false
		}
		f.Close()
		return true
	}

	if tryCreate() {
		return true, nil
	}

	deadline := time.Now().Add(c.lockWaitTotal)
	for time.Now().Before(deadline) {
		if cached := c.loadCache(username); cached != nil {
			return false, cached
		}
		time.Sleep(c.lockWaitStep)
	}
	// The holder may have crashed without producing a cache; try once more
	// before giving up for this cycle.
	if tryCreate() {
		return true, nil
	}
	return false, map[string]float64{}
}

// SyncOnce pages through the total-play endpoint accumulating the maximum
// score per scenario. Each raw page body is dumped to the raw_scores
// directory for debugging. A transport or parse failure mid-pagination
// returns the pages accumulated so far along with the error.
func (c *Client) SyncOnce(username string) (map[string]float64, error) {
	if username == "" {
		return nil, fmt.Errorf("username is empty")
	}
	if err := os.MkdirAll(c.dirs.RawScores(), 0o700); err != nil {
		slog.Warn("failed to create raw scores dir", "error", err)
	}

	all := map[string]float64{}
	for page := 0; ; page++ {
		body, status, err := c.fetchPage(username, page)
		if err != nil {
			return all, fmt.Errorf("fetching page %d: %w", page, err)
		}
		if status != http.StatusOK {
			slog.Warn("score sync stopped on bad status", "page", page, "status", status)
			break
		}

		c.dumpRawPage(username, page, body)

		var resp struct {
			Data []scoreEntry `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return all, fmt.Errorf("parsing page %d: %w", page, err)
		}
		if len(resp.Data) == 0 {
			break
		}

		for _, entry := range resp.Data {
			name := strings.TrimSpace(entry.ScenarioName)
			if name == "" {
				continue
			}
			score, ok := entry.scoreValue()
			if !ok {
				continue
			}
			// Membership matters beyond the score: a zero-score entry still
			// marks the scenario as available online.
			if cur, seen := all[name]; !seen || score > cur {
				all[name] = score
			}
		}

		if page >= maxPages {
			break
		}
		time.Sleep(c.pagePacing)
	}
	return all, nil
}

// fetchPage requests one page of the total-play endpoint.
func (c *Client) fetchPage(username string, page int) ([]byte, int, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("page", strconv.Itoa(page))
	q.Set("max", strconv.Itoa(pageSize))
	q.Set("sort_param[]", "count")
	reqURL := c.baseURL + "/user/scenario/total-play?" + q.Encode()

	resp, err := getHTTPClient().Get(reqURL)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// dumpRawPage writes the raw page body next to the caches for debugging.
func (c *Client) dumpRawPage(username string, page int, body []byte) {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(username)
	path := filepath.Join(c.dirs.RawScores(), fmt.Sprintf("%s_page_%d.json", safe, page))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		slog.Debug("failed to dump raw score page", "path", path, "error", err)
	}
}

// ///////////////////////////////////////////////
// Lookups
// ///////////////////////////////////////////////

// OnlineScore returns the user's online score for a scenario, consulting the
// snapshot first and falling back to a (possibly cached) fetch.
func (c *Client) OnlineScore(username, scenarioName string) (float64, bool) {
	if username == "" || scenarioName == "" {
		return 0, false
	}
	if score, ok := c.LoadLocalScores()[scenarioName]; ok {
		return score, true
	}
	scores, err := c.FetchUserScores(username)
	if err != nil {
		slog.Debug("online score lookup failed", "scenario", scenarioName, "error", err)
		return 0, false
	}
	score, ok := scores[scenarioName]
	return score, ok
}

// AvailableOnline reports whether the scenario appears in the user's online
// scores, via the snapshot or a fetch.
func (c *Client) AvailableOnline(username, scenarioName string) bool {
	if username == "" || scenarioName == "" {
		return false
	}
	if _, ok := c.LoadLocalScores()[scenarioName]; ok {
		return true
	}
	scores, err := c.FetchUserScores(username)
	if err != nil {
		return false
	}
	_, ok := scores[scenarioName]
	return ok
}

// SearchScenarioPopular does a popularity search for the scenario name and
// reports whether an exact case-insensitive match exists in the first five
// results. Transport failures surface as errors so callers can decide how
// permissive to be.
func (c *Client) SearchScenarioPopular(scenarioName string) (bool, error) {
	if scenarioName == "" {
		return false, nil
	}
	q := url.Values{}
	q.Set("page", "0")
	q.Set("max", "5")
	q.Set("scenarioNameSearch", strings.ToLower(scenarioName))
	reqURL := c.baseURL + "/scenario/popular?" + q.Encode()

	resp, err := getHTTPClient().Get(reqURL)
	if err != nil {
		return false, fmt.Errorf("searching scenario: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("searching scenario: status %d", resp.StatusCode)
	}
	var search struct {
		Data []struct {
			ScenarioName string `json:"scenarioName"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&search); err != nil {
		return false, fmt.Errorf("parsing search response: %w", err)
	}
	for _, entry := range search.Data {
		if strings.EqualFold(entry.ScenarioName, scenarioName) {
			return true, nil
		}
	}
	return false, nil
}

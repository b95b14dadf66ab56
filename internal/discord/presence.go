// presence.go builds and ships the KovaaK's Rich Presence activity.
package discord

import (
	"fmt"
	"strings"
)

// steamAppID is KovaaK's Steam application id, used for the jump buttons.
const steamAppID = "824270"

// unknownScenario is the placeholder the save reader yields when no scenario
// name could be extracted. It never appears in presence.
const unknownScenario = "Unknown Scenario"

// BuildPresenceActivity assembles the activity for a tracked scenario.
// Returns nil when the scenario is empty or unknown, which callers treat as
// "leave the current presence alone". A start timestamp of zero omits the
// elapsed timer, and a non-empty shareCode swaps the scenario jump button for
// a playlist one.
func BuildPresenceActivity(scenarioName string, start int64, highscore, sessionBest float64, shareCode string) *Activity {
	if scenarioName == "" || scenarioName == unknownScenario {
		return nil
	}

	largeText := "No session plays yet"
	if sessionBest > 0 {
		largeText = fmt.Sprintf("Session Best: %.1f", sessionBest)
	}

	a := &Activity{
		Details: "Playing: " + scenarioName,
		State:   fmt.Sprintf("Highscore: %.1f", highscore),
		Assets: &Assets{
			LargeImage: "kovaak_image",
			LargeText:  largeText,
			SmallText:  largeText,
		},
		Buttons: []Button{buildJumpButton(scenarioName, shareCode)},
	}
	if start > 0 {
		a.Timestamps = &Timestamps{Start: start}
	}
	return a
}

// buildJumpButton links viewers into the game: straight to the playlist when
// a share code is active, otherwise to the scenario itself.
func buildJumpButton(scenarioName, shareCode string) Button {
	if shareCode != "" {
		return Button{
			Label: "Play Playlist",
			URL:   fmt.Sprintf("steam://run/%s/?action=jump-to-playlist;sharecode=%s", steamAppID, shareCode),
		}
	}
	encoded := strings.NewReplacer(" ", "%20", "&", "%26").Replace(scenarioName)
	return Button{
		Label: "Play Scenario",
		URL:   fmt.Sprintf("steam://run/%s/?action=jump-to-scenario;name=%s", steamAppID, encoded),
	}
}

// UpdatePresence sets the activity for a scenario. Disconnected clients and
// empty or unknown scenario names are a silent no-op so the polling loop can
// call this unconditionally every tick.
func (c *Client) UpdatePresence(scenarioName string, start int64, highscore, sessionBest float64, shareCode string) error {
	if !c.Connected() {
		return nil
	}
	activity := BuildPresenceActivity(scenarioName, start, highscore, sessionBest, shareCode)
	if activity == nil {
		return nil
	}
	return c.SetActivity(activity)
}

// ClearPresence removes the activity. A no-op when disconnected.
func (c *Client) ClearPresence() error {
	if !c.Connected() {
		return nil
	}
	return c.ClearActivity()
}

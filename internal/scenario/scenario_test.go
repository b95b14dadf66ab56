// Tests for scenario name normalization and stats filename parsing.
package scenario

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Gridshot Ultimate", "Gridshot Ultimate"},
		{"Gridshot Ultimate - Challenge", "Gridshot Ultimate"},
		{"", ""},
		{" - Challenge", ""},
		// Idempotence: normalizing a normalized name is a no-op.
		{"Tile Frenzy", "Tile Frenzy"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, name := range []string{
		"Pasu Voltaic - Challenge",
		"Gridshot - Challenge - Challenge",
	} {
		once := Normalize(name)
		if got := Normalize(once); got != once {
			t.Errorf("second Normalize changed %q to %q", once, got)
		}
	}
}

func TestNormalizeStackedSuffixes(t *testing.T) {
	if got := Normalize("Gridshot - Challenge - Challenge"); got != "Gridshot" {
		t.Errorf("Normalize = %q, want %q", got, "Gridshot")
	}
}

func TestFromStatsFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Gridshot - 2024.01.02-15.04.05 Stats.csv", "Gridshot"},
		{"Air - no - strafe - attempt.csv", "Air - no - strafe"},
		{"bare.csv", "bare"},
		{".csv", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FromStatsFilename(tt.in); got != tt.want {
			t.Errorf("FromStatsFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

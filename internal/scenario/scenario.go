// Package scenario provides scenario name canonicalization.
//
// Kovaaks publishes a "challenge" variant of many scenarios whose stats are
// logged under "<Name> - Challenge". The tracker treats both variants as one
// scenario, so every ledger lookup, insert, and merge goes through
// [Normalize] first.
package scenario

import "strings"

// challengeSuffix is the cosmetic variant suffix folded into the base name.
const challengeSuffix = " - Challenge"

// Normalize canonicalizes a raw scenario name to its stable ledger key by
// stripping the challenge suffix, repeatedly so stacked suffixes reduce to
// the bare name in one call. Idempotent.
func Normalize(name string) string {
	for strings.HasSuffix(name, challengeSuffix) {
		name = strings.TrimSuffix(name, challengeSuffix)
	}
	return name
}

// FromStatsFilename extracts the scenario name from a per-attempt stats log
// filename of the form "<Scenario> - <suffix>.csv". The split happens at the
// last " - " so scenario names that themselves contain the separator keep
// their full name. Returns the bare name without extension when no separator
// exists, and "" for names that reduce to nothing.
func FromStatsFilename(filename string) string {
	name := strings.TrimSuffix(filename, ".csv")
	if pos := strings.LastIndex(name, " - "); pos >= 0 {
		name = name[:pos]
	}
	return name
}

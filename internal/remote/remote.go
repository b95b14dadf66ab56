// Package remote centralizes GitHub raw content URLs for the project.
//
// Owner and repo default to the canonical repository; release builds may
// override them via ldflags to point update checks at a fork.
package remote

// Set at build time via:
//
//	-X github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/remote.ldOwner=...
//	-X github.com/SalziCantAim/Improved-Kovaaks-Discord-RPC/internal/remote.ldRepo=...
var (
	ldOwner string
	ldRepo  string
)

const (
	defaultOwner = "SalziCantAim"
	defaultRepo  = "Improved-Kovaaks-Discord-RPC"
)

// Owner returns the GitHub repository owner.
func Owner() string {
	if ldOwner != "" {
		return ldOwner
	}
	return defaultOwner
}

// Repo returns the GitHub repository name.
func Repo() string {
	if ldRepo != "" {
		return ldRepo
	}
	return defaultRepo
}

// RawURL returns the raw GitHub URL for a file on the main branch.
func RawURL(path string) string {
	return "https://raw.githubusercontent.com/" + Owner() + "/" + Repo() + "/main/" + path
}

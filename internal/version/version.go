// Package version holds build-time identifiers set via -ldflags.
package version

// Version, Commit, and Date are overridden at build time with
// -ldflags "-X github.com/proximityhq/proximity/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

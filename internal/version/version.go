// Package version provides centralized version information for ctxpack.
package version

// These variables can be overridden at build time using ldflags:
// go build -ldflags "-X ctxpack/internal/version.Version=1.0.0 -X ctxpack/internal/version.Commit=abc123"
var (
	// Version is the semantic version of ctxpack
	Version = "0.4.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// CacheSchemaVersion is folded into every query cache key. Bump it whenever the
// shape or semantics of a cached response changes so stale entries stop matching.
const CacheSchemaVersion = 3

// Info returns a formatted version string
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "ctxpack version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}

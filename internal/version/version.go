// Package version holds build-time version information for the plantai
// binary. The variables are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/plantai-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/plantai-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/plantai-go/internal/version.BuildDate=2026-01-01"
//
// When built without ldflags (e.g. `go run`), the values fall back to
// human-readable defaults so the binary is always usable.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is the semantic version of the binary (e.g. "v1.2.3").
// Set at build time via -ldflags. Defaults to "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA of the commit the binary was built from.
// Set at build time via -ldflags. Defaults to "unknown".
var Commit = "unknown"

// BuildDate is the UTC date the binary was built (RFC3339 format).
// Set at build time via -ldflags. Defaults to "unknown".
var BuildDate = "unknown"

// String formats the version line printed by `plantai version`. A commit
// missing from ldflags is taken from the VCS stamp Go embeds when available.
func String() string {
	return format(Version, commit(), BuildDate)
}

func format(v, c, d string) string {
	return fmt.Sprintf("plantai %s (commit: %s, built: %s)", v, c, d)
}

func commit() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return Commit
}

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at release build time:
//
//	go build -ldflags "-X github.com/venturekit/planner/internal/version.Version=1.0.0
//	  -X github.com/venturekit/planner/internal/version.Commit=abc123
//	  -X github.com/venturekit/planner/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a one-line human-readable version string.
func Info() string {
	return fmt.Sprintf("planner %s (commit: %s, built: %s, %s/%s)",
		Version, short(commit()), Date, runtime.GOOS, runtime.GOARCH)
}

// commit prefers the ldflags value, falling back to the VCS revision
// the Go toolchain embeds in module builds.
func commit() string {
	if Commit != "unknown" {
		return Commit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return Commit
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

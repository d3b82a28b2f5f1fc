// Package version reports which build of openclaw is running.
package version

import (
	"fmt"
	"runtime/debug"
)

// Injected at release time:
//
//	go build -ldflags "\
//	  -X github.com/openclaw/openclaw/pkg/version.release=v0.3.0 \
//	  -X github.com/openclaw/openclaw/pkg/version.commit=$(git rev-parse HEAD)"
//
// Untagged builds report release "dev" and fall back to the VCS revision
// stamped into the binary.
var (
	release = "dev"
	commit  = ""
)

// Release returns the release tag, "dev" for untagged builds.
func Release() string { return release }

// Commit returns the short (8 char) revision of the build, preferring the
// ldflags value over the binary's embedded VCS metadata. Builds with neither
// report "unknown".
func Commit() string {
	c := commit
	if c == "" {
		c = vcsRevision()
	}
	if c == "" {
		return "unknown"
	}
	if len(c) > 8 {
		c = c[:8]
	}
	return c
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// Full renders the one-line version string printed by the CLI and stamped
// into startup logs, e.g. "openclaw v0.3.0 (a3f8c2d1)".
func Full() string {
	return fmt.Sprintf("openclaw %s (%s)", release, Commit())
}

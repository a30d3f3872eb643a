// Package version holds the build metadata stamped in with
// -ldflags "-X github.com/MeKo-Tech/fieldscan/internal/version.Version=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the version, commit and build date.
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String renders the metadata on one line, with the Go runtime that built it.
func String() string {
	return fmt.Sprintf("fieldscan %s (commit %s, built %s, %s %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

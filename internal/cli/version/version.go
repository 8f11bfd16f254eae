// Package version holds build-time version information.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the CLI version, set at build time.
	Version = "0.1.0"
	// BuildDate is the build date, set at build time.
	BuildDate = "unknown"
	// GitCommit is the git commit hash, set at build time.
	GitCommit = "unknown"
)

// Info holds version information.
type Info struct {
	Version   string
	BuildDate string
	GitCommit string
	GoVersion string
	Platform  string
}

// Get returns the current version information.
func Get() Info {
	return Info{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a one-line version string.
func (i Info) String() string {
	return fmt.Sprintf("rowquery version %s (%s %s)", i.Version, i.Platform, i.GoVersion)
}

// FullString returns a detailed version string.
func (i Info) FullString() string {
	return fmt.Sprintf(`rowquery version %s
Build Date: %s
Git Commit: %s
Platform: %s
Go Version: %s`, i.Version, i.BuildDate, i.GitCommit, i.Platform, i.GoVersion)
}

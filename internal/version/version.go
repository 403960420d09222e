// Package version carries build metadata, set at link time with
// -ldflags "-X ipwatch/internal/version.Version=...".
package version

import (
	"fmt"
	"runtime"
)

// Name prefixes every product string
const Name = "ipwatch"

// Set by the linker
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the build metadata reported by `ipwatch version` and the status API
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns the metadata of the running binary
func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)",
		Name, i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}

// UserAgent identifies ipwatch in outgoing requests, e.g. "ipwatch/1.2.0".
// A non-empty component is appended as a comment.
func UserAgent(component string) string {
	if component == "" {
		return Name + "/" + Version
	}
	return fmt.Sprintf("%s/%s (%s)", Name, Version, component)
}

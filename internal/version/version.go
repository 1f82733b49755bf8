// Package version reports build information embedded by the Go toolchain.
//
// Version can be overridden at link time:
//
//	go build -ldflags "-X github.com/theamanone/encstream/internal/version.Version=v1.2.3"
package version

import (
	"time"

	"github.com/carlmjohnson/versioninfo"
)

// Version overrides the module version reported by the toolchain when set.
var Version string

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Dirty     bool   `json:"dirty"`
}

// Get returns the build information for the running binary.
func Get() Info {
	v := Version
	if v == "" {
		v = versioninfo.Version
	}

	buildDate := "unknown"
	if !versioninfo.LastCommit.IsZero() {
		buildDate = versioninfo.LastCommit.UTC().Format(time.RFC3339)
	}

	return Info{
		Version:   v,
		GitCommit: versioninfo.Revision,
		BuildDate: buildDate,
		Dirty:     versioninfo.DirtyBuild,
	}
}

// Short returns a compact version string (version, short commit and dirty marker).
func Short() string {
	if Version != "" {
		return Version
	}
	return versioninfo.Short()
}

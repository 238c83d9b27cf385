// Package version carries build metadata printed by the version command and
// attached to traces.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is the default version in local builds.
	DevelopmentVersion = "dev"
)

var (
	// AppVersion is set at build time:
	// go build -ldflags="-X github.com/nimburion/taskcore/pkg/version.AppVersion=v1.2.3"
	AppVersion = DevelopmentVersion

	// GitCommit is set at build time; the VCS stamp is used otherwise.
	GitCommit = Unknown

	// BuildTime is set at build time (RFC3339).
	BuildTime = Unknown

	readBuildInfo = debug.ReadBuildInfo
)

// Info contains version metadata for a taskcore binary.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Current returns the build metadata of the running binary.
func Current(serviceName string) Info {
	info := Info{
		Service:   normalizeOrDefault(serviceName, Unknown),
		Version:   normalizeOrDefault(AppVersion, DevelopmentVersion),
		Commit:    normalizeOrDefault(GitCommit, Unknown),
		BuildTime: normalizeOrDefault(BuildTime, Unknown),
		GoVersion: runtime.Version(),
	}
	if info.Commit == Unknown || info.BuildTime == Unknown {
		if bi, ok := readBuildInfo(); ok {
			for _, setting := range bi.Settings {
				switch {
				case setting.Key == "vcs.revision" && info.Commit == Unknown:
					info.Commit = setting.Value
				case setting.Key == "vcs.time" && info.BuildTime == Unknown:
					info.BuildTime = setting.Value
				}
			}
		}
	}
	return info
}

// String returns a log-friendly representation.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s, %s)", i.Service, i.Version, i.Commit, i.BuildTime, i.GoVersion)
}

func normalizeOrDefault(v, fallback string) string {
	norm := strings.TrimSpace(v)
	if norm == "" {
		return fallback
	}
	return norm
}

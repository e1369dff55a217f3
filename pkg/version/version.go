// Package version resolves the version string the CLI reports.
package version

import (
	"runtime/debug"
	"strings"
)

// Version is what `radio-cycler version` prints. Release builds set it with
// -ldflags "-X github.com/radiocycler/radiocycler/pkg/version.Version=<value>";
// anything else falls back to the embedded build info.
var Version = devVersion

const devVersion = "0.1.0-dev"

var readBuildInfo = debug.ReadBuildInfo

func init() {
	Version = derive(Version)
}

func derive(current string) string {
	if current != "" && current != devVersion {
		return current
	}

	info, ok := readBuildInfo()
	if !ok || info == nil {
		return current
	}

	if main := strings.TrimSpace(info.Main.Version); main != "" && main != "(devel)" {
		return main
	}
	if rev := vcsRevision(info.Settings); rev != "" {
		return rev
	}
	return current
}

// vcsRevision builds a devel pseudo-version from the vcs stamp: short hash,
// plus a -dirty marker for modified trees.
func vcsRevision(settings []debug.BuildSetting) string {
	revision := ""
	dirty := false
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(setting.Value)
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if revision == "" {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		revision += "-dirty"
	}
	return "devel+" + revision
}

package version

import (
	"runtime/debug"
)

// Version is "<commit>@<time>" from the VCS stamp in the build info, or
// "devel" when the binary was built without one.
var Version = func() string {
	var commit, stamp string
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
			case "vcs.time":
				stamp = setting.Value
			}
		}
	}
	return format(commit, stamp)
}()

func format(commit, stamp string) string {
	if commit == "" {
		return "devel"
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if stamp == "" {
		return commit
	}
	return commit + "@" + stamp
}

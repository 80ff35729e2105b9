package version

import (
	"fmt"
	"runtime"
)

// Flag contains extra info about the version. It is set to "develop" between
// releases and emptied when tagging.
const Flag = "develop"

var (
	// Version is the full version string.
	Version = "0.1.0"

	// GitCommit is set with
	// --ldflags "-X github.com/shoplane/factsync/src/version.GitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

// ProtocolVersion identifies the fact hash scheme and the sync message format.
const ProtocolVersion = 1

func init() {
	if Flag != "" {
		Version += "-" + Flag
	}

	if len(GitCommit) >= 8 {
		Version += "-" + GitCommit[:8]
	}
}

// Full returns the version line printed by the version command.
func Full() string {
	return fmt.Sprintf("factsync %s (protocol %d, %s %s/%s)",
		Version, ProtocolVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

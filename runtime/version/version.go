// Package version reports the build identity of the running binary.
package version

import (
	"fmt"
	"strings"
	"time"
)

// These are interpolated through linker options at release time; the
// fallbacks cover plain `go build` invocations.
var (
	gitTag    = "dev"
	gitCommit = "unknown"
	buildDate = ""
)

// GetVersion returns the human-readable version string.
func GetVersion() string {
	date := buildDate
	if date == "" || date == "{DATE}" {
		date = time.Now().UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s. Built at: %s", GetBuildData(), date)
}

// GetBuildData returns the tag and commit of the current build.
func GetBuildData() string {
	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "{STABLE_GIT_COMMIT}" {
		commit = "unknown"
	}
	return fmt.Sprintf("tbtc-relayer/%s/%s", gitTag, commit)
}

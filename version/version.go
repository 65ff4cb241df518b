// Package version provides the build information of the jaxci binary.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Package is filled at linking time
	Package = "github.com/rocm/jaxci"

	// Version holds the complete version number. Filled in at linking time.
	Version = "0.0.1+unknown"

	// Revision is filled with the VCS (e.g. git) revision being used to build
	// the program at linking time.
	Revision = ""

	// BuildTimestamp is the build timestamp.
	BuildTimestamp = ""

	// GoVersion is Go tree's version.
	GoVersion = runtime.Version()
)

// String renders the version with its revision and toolchain,
// e.g. "0.1.0 (rev abc123, go1.24.1)".
func String() string {
	rev := Revision
	if rev == "" {
		rev = "unknown"
	}
	return fmt.Sprintf("%s (rev %s, %s)", Version, rev, GoVersion)
}

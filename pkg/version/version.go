package version

import (
	"fmt"
	"runtime"
)

// These variables are injected at build time.

// SealerVersion hosts the version of the app.
var SealerVersion = "development"

// Commit is the commit hash of the build
var Commit string

// BuildDate is the date it was built
var BuildDate string

// GoVersion is the go version that was used to compile this
var GoVersion string

// String returns a one line summary of the build.
func String() string {
	goVersion := GoVersion
	if goVersion == "" {
		goVersion = runtime.Version()
	}

	return fmt.Sprintf("sealer %s (commit %s, built %s, %s)", SealerVersion, orUnknown(Commit), orUnknown(BuildDate), goVersion)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

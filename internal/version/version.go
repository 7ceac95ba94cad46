package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func GoVersion() string {
	return runtime.Version()
}

func String() string {
	return fmt.Sprintf("siteup %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, BuildDate, GoVersion(), runtime.GOOS, runtime.GOARCH)
}

package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

//go:embed VERSION
var Version string

// Get returns the current version of the application
func Get() string {
	return strings.TrimSpace(Version)
}

// Info returns a one-line description of the build for the version command
func Info(app string) string {
	return fmt.Sprintf("%s version %s (%s %s/%s)", app, Get(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Package version holds build-time version information, injected via
// -ldflags at release build time.
package version

var (
	// Version is the release version.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "unknown"
)

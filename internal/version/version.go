// Package version exposes build-time identification, set via -ldflags.
package version

var (
	// Version is the current application version.
	Version = "dev"
	// GitSHA is the git commit SHA of the build.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Identify is the line written in reply to the "*" probe.
func Identify() string {
	return fmt.Sprintf("Triggerscope %s (%s)", Version, GitSHA)
}

package cmd

import "fmt"

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// printVersionInfo displays version information.
func printVersionInfo() error {
	fmt.Printf("recall v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
	return nil
}

// Package main is the entry point for the threadscope application.
// threadscope parses JVM thread dumps and renders a structured verdict
// on whether the target process is healthy, stalled, or deadlocked.
package main

import (
	"github.com/Alain-L/threadscope/cmd"
)

// Build-time version information, overridden via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// All command-line parsing, flag handling, and execution logic
	// is delegated to the cmd package.
	cmd.Execute(version, commit, date)
}

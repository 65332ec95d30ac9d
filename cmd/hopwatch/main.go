// Package main is the entry point for the hopwatch CLI application.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/hopwatch/hopwatch/internal/logging"
	"github.com/hopwatch/hopwatch/internal/mtrengine"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logging.Init()
	SetVersion(version, commit, date)

	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to a process exit code: 0 success (unreached
// here), 1 privilege failure when the Raw backend was required, 2
// unresolvable target, 3 other fatal I/O.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, mtrengine.ErrPrivilegeDenied):
		return 1
	case errors.Is(err, mtrengine.ErrUnresolvable):
		return 2
	default:
		return 3
	}
}

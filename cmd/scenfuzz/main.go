// Command scenfuzz orchestrates scenario-fuzzing experiments against the
// CARLA driving simulator.
package main

import (
	"os"
	"regexp"
	"strconv"

	"github.com/scenfuzz/scenfuzz/internal/cmd"
)

// Populated at build time via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

// exitCodeRe extracts the exit code commands attach to fatal errors.
var exitCodeRe = regexp.MustCompile(`\(exit code (\d+)\)$`)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if m := exitCodeRe.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil && code > 0 {
			return code
		}
	}
	return 1
}

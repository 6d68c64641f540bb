package main

import (
	"os"

	"github.com/lfcbot/lfc/cmd/lfc/cmd"
)

// Version information, set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/scanhub/scanhub/pkg/cmd"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

var (
	// These variables are populated by GoReleaser via ldflags
	version = "dev"
	commit  = "none"
	date    = "unknown"

	buildInfo = scanhub.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}
)

// main is the entrypoint of the scanhub executable command.
func main() {
	if err := cmd.Run(buildInfo, os.Args, os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

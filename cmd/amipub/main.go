// Package main is the entry point for the amipub CLI.
//
// amipub publishes raw disk images built by the OS image pipeline as AMIs:
// it uploads the image as an EBS snapshot, registers a bootable image in the
// home region and replicates both into any number of additional regions.
//
// For detailed usage information, run:
//
//	amipub --help
package main

import (
	"errors"
	"fmt"
	"os"

	"amipub/cmd/amipub/commands"
	"amipub/cmd/amipub/handlers"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		// Partial success gets its own exit code: the home-region AMI
		// exists and was printed, but one or more replicas failed.
		if errors.Is(err, handlers.ErrPartialSuccess) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"log"

	"github.com/spf13/cobra"
)

// Root returns the root command for the amipub CLI.
func Root() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "amipub",
		Short: "Publish disk images as AMIs across AWS regions",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debug {
				log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
			}
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable verbose log output")

	cmd.AddCommand(Publish())
	cmd.AddCommand(Version())

	return cmd
}

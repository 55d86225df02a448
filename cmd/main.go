package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alpacahq/peersync/cmd/migrate"
	"github.com/alpacahq/peersync/cmd/start"
	"github.com/alpacahq/peersync/utils"
)

// flagPrintVersion set flag to show current peersync version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use:   "peersync",
		Short: "Replicate a Postgres table between peer instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				fmt.Printf("version: %+v\n", utils.Tag)
				fmt.Printf("commit hash: %+v\n", utils.GitHash)
				fmt.Printf("utc build time: %+v\n", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(start.Cmd)
	c.AddCommand(migrate.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}

// Package cmd implements the openchat-hub command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for openchat-hub.
// When invoked without a subcommand, it behaves as "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "openchat-hub",
		Short: "OpenChat hub: real-time one-to-one chat server",
		Long:  "OpenChat hub binds WebSocket connections to logged-in users, routes chat messages between them and serves the account API and web client.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newTokenCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openchat-io/openchat/pkg/protocol"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Convert between user ids and the recipient tokens clients see",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "encode <user-id>",
		Short: "Print the recipient token for a user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), protocol.EncodeRecipientToken(args[0]))
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "decode <token>",
		Short: "Print the user id behind a recipient token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := protocol.DecodeRecipientToken(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	})
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgellow/mcp-workers/internal/oauth"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered OAuth clients",
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Remove a registered client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPersistentStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := oauth.NewRegistrar(store, nil, nil).Unregister(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted client %s\n", args[0])
			return nil
		},
	}
	deleteCmd.Flags().String("config", "", "path to config file (required)")
	_ = deleteCmd.MarkFlagRequired("config")

	cmd.AddCommand(deleteCmd)
	return cmd
}

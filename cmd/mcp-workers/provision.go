package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgellow/mcp-workers/internal"
	"github.com/dgellow/mcp-workers/internal/config"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/dgellow/mcp-workers/internal/storage"
)

func newProvisionCmd() *cobra.Command {
	var slug, resourceURL string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the signing secret for a deployment and map its URLs",
		Long: "provision generates a fresh signing secret for a deployment slug, stores it,\n" +
			"and maps the deployment URL and its /mcp path to the slug. The secret is\n" +
			"printed once; push it to the Worker so it can verify access tokens.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPersistentStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := oauth.NewProvisioner(store).Provision(cmd.Context(), slug, resourceURL)
			if err != nil {
				return fmt.Errorf("failed to provision %s: %w", slug, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Provisioned %s\n", res.Slug)
			for _, alias := range res.Aliases {
				fmt.Fprintf(out, "  resource: %s\n", alias)
			}
			fmt.Fprintf(out, "Signing secret (shown once): %s\n", res.Secret)
			return nil
		},
	}
	cmd.Flags().String("config", "", "path to config file (required)")
	cmd.Flags().StringVar(&slug, "slug", "", "deployment slug (required)")
	cmd.Flags().StringVar(&resourceURL, "url", "", "public URL of the deployed Worker (required)")
	for _, name := range []string{"config", "slug", "url"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// openPersistentStore opens the configured store for one-shot admin commands.
// An in-memory store would vanish with the process, so it is refused.
func openPersistentStore(cmd *cobra.Command) (storage.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Storage == config.StorageMemory || cfg.Storage == "" {
		return nil, fmt.Errorf("%s needs persistent storage (firestore or postgres), config uses memory; list the deployment under \"deployments\" instead", cmd.CommandPath())
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return internal.OpenStore(ctx, cfg, nil)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgellow/mcp-workers/internal"
	"github.com/dgellow/mcp-workers/internal/config"
	"github.com/dgellow/mcp-workers/internal/log"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log.LogInfoWithFields("main", "Starting mcp-workers", map[string]any{
				"version": BuildVersion,
				"config":  path,
			})

			app, err := internal.NewApp(cmd.Context(), cfg, BuildVersion)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().String("config", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// loadConfig reads the env file and then the --config file.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	if err := loadEnvFile(cmd); err != nil {
		return config.Config{}, "", err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, path, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

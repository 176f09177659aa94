package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/area-platform/areaengine/internal/app"
	"github.com/area-platform/areaengine/internal/security"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "areaengine",
		Short:         "Trigger-reaction automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, configPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Migrate(cmd.Context(), configPath)
		},
	}

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ops API key and its config hash",
		RunE: func(_ *cobra.Command, _ []string) error {
			key, errGenerate := security.GenerateAPIKey()
			if errGenerate != nil {
				return errGenerate
			}
			hash, errHash := security.HashAPIKey(key)
			if errHash != nil {
				return errHash
			}
			fmt.Printf("key:  %s\nhash: %s\n", key, hash)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, keygenCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

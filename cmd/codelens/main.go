package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at link time.
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "codelens",
		Short:         "Browse static-analysis metrics as an expandable code graph",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (defaults plus CODELENS_* env when empty)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newBuildCmd(&configPath),
		newViewCmd(&configPath),
		newRefreshCmd(&configPath),
		newSnapshotsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

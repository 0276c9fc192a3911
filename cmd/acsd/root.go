package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "acsd",
		Short: "Single-host cron scheduling daemon",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	cmd.AddCommand(runCmd(&configPath))
	cmd.AddCommand(versionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

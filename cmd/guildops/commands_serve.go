package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the bot.
// This is the primary command for running GuildOps in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the GuildOps bot",
		Long: `Start the GuildOps bot with all configured subsystems.

The bot will:
1. Load configuration from the specified file (or guildops.yaml)
2. Load the ticket state file from disk
3. Connect to the Discord gateway
4. Register prefix commands and interaction handlers
5. Start the metrics endpoint when enabled
6. Schedule the expired wave session sweep

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  guildops serve

  # Start with custom config
  guildops serve --config /etc/guildops/production.yaml

  # Start with debug logging
  guildops serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "guildops.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// Package main provides the CLI entry point for the GuildOps Discord bot.
//
// GuildOps runs two workflows for trading-community servers: staged
// promote/demote role waves with live progress reporting, and a support
// ticket system with per-guild configuration, fuzzy trade-partner
// matching, and transcript delivery.
//
// # Basic Usage
//
// Start the bot:
//
//	guildops serve --config guildops.yaml
//
// # Environment Variables
//
// The configuration file is passed through os.ExpandEnv before parsing,
// so secrets such as the bot token can be referenced as:
//
//	bot:
//	  token: ${DISCORD_BOT_TOKEN}
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guildops",
		Short: "GuildOps - Discord community operations bot",
		Long: `GuildOps automates staff workflows for trading communities on Discord.

Role waves: stage a batch of member ids, then promote or demote every
member one rank with a streamed progress bar and a full outcome report.

Tickets: a button-driven support panel that opens private channels,
matches trade partners by id, mention, or closest username, and delivers
a transcript when the ticket closes.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("guildops %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}

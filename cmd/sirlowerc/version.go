package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Overridden at link time via -ldflags "-X main.version=...".
var version = "dev"

func versionString() string { return version }

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sirlowerc version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sirlowerc %s\n", versionString())
	},
}

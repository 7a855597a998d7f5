// Package main implements the sirlowerc CLI: the driver that takes `.sir`
// modules produced by the front end, lowers them, and writes or runs the
// result.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sirlowerc",
	Short: "SIR lowering backend and JIT driver",
	Long:  "sirlowerc lowers serialized SIR modules to LLVM IR, object code, executables, or runs them in-process.",
}

func main() {
	rootCmd.Version = versionString()

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().Bool("debug", false, "emit debug info and enable runtime backtraces")
	rootCmd.PersistentFlags().Int("threads", 0, "worker goroutines for function lowering (0 = all cores)")
	rootCmd.PersistentFlags().String("config", "", "path to sirlower.toml (default: search upward from the input)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

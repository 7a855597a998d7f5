package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sirlower/internal/backend"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] <input.sir>",
	Short: "Lower a SIR module and write IR, bitcode, an object, or an executable",
	Long: "Build lowers the given serialized SIR module and writes output selected by\n" +
		"the -o suffix: .ll for textual IR, .bc for bitcode, .o/.obj for an object\n" +
		"file, anything else links an executable.",
	Args: cobra.ExactArgs(1),
	RunE: buildExecution,
}

func init() {
	buildCmd.Flags().StringP("output", "o", "", "output path (default: input path without .sir, or input path + .out)")
	buildCmd.Flags().IntP("opt", "O", 2, "optimization level (0-3)")
	buildCmd.Flags().StringSlice("lib", nil, "extra -l libraries for the link step")
}

func buildExecution(cmd *cobra.Command, args []string) error {
	input := args[0]
	po, err := resolveOptions(cmd, input, false)
	if err != nil {
		return err
	}
	optN, err := cmd.Flags().GetInt("opt")
	if err != nil {
		return err
	}
	if po.opt, err = parseOptLevel(optN); err != nil {
		return err
	}

	out, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if out == "" {
		out = strings.TrimSuffix(input, ".sir")
		if out == input {
			out = input + ".out"
		}
	}

	extraLibs, err := cmd.Flags().GetStringSlice("lib")
	if err != nil {
		return err
	}

	low, err := lowerModule(input, po)
	if err != nil {
		return err
	}
	defer low.Dispose()

	link := backend.LinkOptions{
		CC:        po.cfg.Link.CC,
		UserLibs:  append(append([]string{}, po.cfg.Link.Libs...), extraLibs...),
		UserPaths: po.cfg.Link.Paths,
		Darwin:    targetOptions(po.cfg.Target).IsDarwin(),
		Debug:     po.debug,
	}
	if err := backend.WriteOutput(low.session.Module, low.tm, out, link); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	return nil
}

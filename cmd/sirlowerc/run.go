package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sirlower/internal/backend"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <input.sir> [-- program args...]",
	Short: "Lower a SIR module and execute it in-process through the JIT",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExecution,
}

func init() {
	runCmd.Flags().IntP("opt", "O", 0, "optimization level (0-3)")
	runCmd.Flags().StringSlice("lib", nil, "dynamic libraries to load before execution")
}

func runExecution(cmd *cobra.Command, args []string) error {
	input := args[0]
	po, err := resolveOptions(cmd, input, true)
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
	libs, err := cmd.Flags().GetStringSlice("lib")
	if err != nil {
		return err
	}

	low, err := lowerModule(input, po)
	if err != nil {
		return err
	}
	defer low.Dispose()

	argv := append([]string{input}, args[1:]...)
	code, err := backend.RunJIT(low.session.Module, low.tm, argv, os.Environ(), backend.JITOptions{
		Libs:  append(append([]string{}, po.cfg.Link.Libs...), libs...),
		Debug: po.debug,
	})
	if err != nil {
		reportJITError(err, po.debug)
		os.Exit(1)
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// reportJITError is the one place a JIT runtime exception is recovered:
// print what was captured, the pretty backtrace when debugging, and let
// the caller abort.
func reportJITError(err error, debug bool) {
	var jerr *backend.JITError
	if !errors.As(err, &jerr) {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	if jerr.Output != "" {
		fmt.Fprint(os.Stderr, jerr.Output)
	}
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(os.Stderr, "%s\n", jerr.Error())
	if debug {
		for _, frame := range jerr.Backtrace {
			fmt.Fprintf(os.Stderr, "  at %s\n", frame)
		}
	}
}

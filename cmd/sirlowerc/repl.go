package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"sirlower/internal/backend"
	"sirlower/internal/jitsession"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	dim   = color.New(color.Faint).SprintFunc()
)

var replCmd = &cobra.Command{
	Use:   "repl [flags]",
	Short: "Interactive JIT session over serialized SIR modules",
	Long: "The REPL loads `.sir` modules into an in-process JIT session. History,\n" +
		"loaded modules and libraries persist across restarts under the named\n" +
		"session.",
	Args: cobra.NoArgs,
	RunE: replExecution,
}

func init() {
	replCmd.Flags().String("session", "default", "named session to resume or start")
	replCmd.Flags().Bool("fresh", false, "discard any saved state for the session")
}

var replCommands = []string{":run", ":ir", ":lib", ":modules", ":history", ":help", ":quit"}

func replExecution(cmd *cobra.Command, _ []string) error {
	name, err := cmd.Flags().GetString("session")
	if err != nil {
		return err
	}
	fresh, err := cmd.Flags().GetBool("fresh")
	if err != nil {
		return err
	}

	store, err := jitsession.Open("sirlower")
	if err != nil {
		return err
	}
	if fresh {
		if err := store.Remove(name); err != nil {
			return err
		}
	}
	state, err := store.Load(name)
	if err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	for _, h := range state.History {
		line.AppendHistory(h)
	}
	line.SetCompleter(func(l string) (c []string) {
		if strings.HasPrefix(l, ":") {
			for _, rc := range replCommands {
				if strings.HasPrefix(rc, l) {
					c = append(c, rc)
				}
			}
		}
		return
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sirlowerc %s JIT session %q\n", versionString(), name)
	fmt.Fprintln(out, dim("Type :help for help, :quit to exit"))
	if len(state.Modules) > 0 {
		fmt.Fprintf(out, "%s %d module(s) from previous session\n", dim("restored"), len(state.Modules))
	}

	defer func() {
		if err := store.Save(name, state); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", red("save session"), err)
		}
	}()

	for {
		input, err := line.Prompt("sir> ")
		if err == io.EOF || err == liner.ErrPromptAborted {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		state.History = append(state.History, input)

		if quit := replDispatch(cmd, out, &state, input); quit {
			return nil
		}
	}
}

// replDispatch executes one REPL command line, reporting errors inline;
// returns true when the session should end.
func replDispatch(cmd *cobra.Command, out io.Writer, state *jitsession.State, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case ":quit", ":q":
		return true
	case ":help":
		fmt.Fprintln(out, "  :run <file.sir> [args...]  lower and execute a module")
		fmt.Fprintln(out, "  :ir <file.sir>             print a module's lowered IR")
		fmt.Fprintln(out, "  :lib <name>                load a dynamic library into the JIT")
		fmt.Fprintln(out, "  :modules                   list modules run this session")
		fmt.Fprintln(out, "  :history                   show input history")
		fmt.Fprintln(out, "  :quit                      exit, saving session state")
	case ":history":
		for _, h := range state.History {
			fmt.Fprintln(out, dim(h))
		}
	case ":modules":
		for _, m := range state.Modules {
			fmt.Fprintln(out, cyan(m))
		}
	case ":lib":
		if len(fields) != 2 {
			fmt.Fprintf(out, "%s: usage: :lib <name>\n", red("error"))
			break
		}
		state.Libs = append(state.Libs, fields[1])
		fmt.Fprintf(out, "%s %s\n", green("will load"), fields[1])
	case ":run":
		if len(fields) < 2 {
			fmt.Fprintf(out, "%s: usage: :run <file.sir> [args...]\n", red("error"))
			break
		}
		replRun(cmd, out, state, fields[1], fields[2:])
	case ":ir":
		if len(fields) != 2 {
			fmt.Fprintf(out, "%s: usage: :ir <file.sir>\n", red("error"))
			break
		}
		replShowIR(cmd, out, fields[1])
	default:
		fmt.Fprintf(out, "%s: unknown command %q (try :help)\n", red("error"), fields[0])
	}
	return false
}

func replRun(cmd *cobra.Command, out io.Writer, state *jitsession.State, path string, args []string) {
	po, err := resolveOptions(cmd, path, true)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", red("error"), err)
		return
	}
	low, err := lowerModule(path, po)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", red("error"), err)
		return
	}
	defer low.Dispose()

	state.Modules = append(state.Modules, path)
	argv := append([]string{path}, args...)
	code, err := backend.RunJIT(low.session.Module, low.tm, argv, os.Environ(), backend.JITOptions{
		Libs:  state.Libs,
		Debug: po.debug,
	})
	if err != nil {
		reportJITError(err, po.debug)
		return
	}
	fmt.Fprintf(out, "%s exit %d\n", green("done:"), code)
}

func replShowIR(cmd *cobra.Command, out io.Writer, path string) {
	po, err := resolveOptions(cmd, path, true)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", red("error"), err)
		return
	}
	low, err := lowerModule(path, po)
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", red("error"), err)
		return
	}
	defer low.Dispose()
	fmt.Fprintln(out, low.session.Module.String())
}

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"tinygo.org/x/go-llvm"

	"sirlower/internal/backend"
	"sirlower/internal/config"
	"sirlower/internal/lower"
	"sirlower/internal/lowermodule"
	"sirlower/internal/sir"
	"sirlower/internal/sirenc"
)

// pipelineOptions collects everything the lower-and-emit pipeline needs,
// merged from the manifest and command-line flags (flags win).
type pipelineOptions struct {
	cfg     config.Config
	debug   bool
	jit     bool
	threads int
	opt     backend.OptLevel
}

// resolveOptions loads the manifest (explicit --config path, else searched
// upward from inputPath's directory) and merges the persistent flags over
// it.
func resolveOptions(cmd *cobra.Command, inputPath string, jit bool) (pipelineOptions, error) {
	flags := cmd.Root().PersistentFlags()
	var po pipelineOptions
	po.jit = jit

	cfgPath, err := flags.GetString("config")
	if err != nil {
		return po, err
	}
	if cfgPath != "" {
		po.cfg, err = config.Load(cfgPath)
	} else {
		po.cfg, err = config.Find(filepath.Dir(inputPath))
	}
	if err != nil {
		return po, err
	}

	po.debug = po.cfg.Lower.Debug
	if f, err := flags.GetBool("debug"); err == nil && f {
		po.debug = true
	}
	po.threads = po.cfg.Lower.Threads
	if t, err := flags.GetInt("threads"); err == nil && t != 0 {
		po.threads = t
	}
	return po, nil
}

// targetOptions maps the manifest's textual target section onto backend
// enums; unknown or empty names fall back to the host default.
func targetOptions(t config.Target) backend.TargetOptions {
	var opts backend.TargetOptions
	switch t.Arch {
	case "x86_64", "amd64":
		opts.Arch = backend.X86_64
	case "x86", "i386":
		opts.Arch = backend.X86_32
	case "aarch64", "arm64":
		opts.Arch = backend.Aarch64
	case "riscv64":
		opts.Arch = backend.Riscv64
	case "riscv32":
		opts.Arch = backend.Riscv32
	}
	switch t.Vendor {
	case "pc":
		opts.Vendor = backend.PC
	case "apple":
		opts.Vendor = backend.Apple
	case "ibm":
		opts.Vendor = backend.IBM
	}
	switch t.OS {
	case "linux":
		opts.OS = backend.Linux
	case "windows":
		opts.OS = backend.Windows
	case "darwin", "macos":
		opts.OS = backend.Darwin
	}
	return opts
}

// lowered bundles the live session and target machine a lowered module
// rides on; callers own Dispose.
type lowered struct {
	session *lower.Session
	tm      llvm.TargetMachine
}

func (l *lowered) Dispose() {
	l.tm.Dispose()
	l.session.Dispose()
}

// lowerModule decodes inputPath and drives it through the lowering
// session, returning the finished module still attached to its session.
func lowerModule(inputPath string, po pipelineOptions) (*lowered, error) {
	mod, err := sirenc.DecodeFile(inputPath)
	if err != nil {
		return nil, err
	}
	return lowerSIR(mod, inputPath, po)
}

// lowerSIR lowers an in-memory SIR module.
func lowerSIR(mod *sir.Module, sourceName string, po pipelineOptions) (*lowered, error) {
	tgt := targetOptions(po.cfg.Target)
	tm, err := backend.TargetMachine(tgt)
	if err != nil {
		return nil, err
	}

	name := mod.Name
	if name == "" {
		name = filepath.Base(sourceName)
	}
	s := lower.NewSession(name, lower.Options{
		JIT:             po.jit,
		Debug:           po.debug,
		Darwin:          tgt.IsDarwin(),
		PreciseCoroFree: po.cfg.Lower.PreciseCoroFree,
		SourceFile:      sourceName,
	})
	s.AttachTargetData(tm.CreateTargetData())

	d := lowermodule.NewDriver(s)
	d.Threads = po.threads
	if err := d.Lower(mod); err != nil {
		tm.Dispose()
		s.Dispose()
		return nil, err
	}

	backend.Optimize(s.Module, po.opt)
	return &lowered{session: s, tm: tm}, nil
}

// parseOptLevel maps the -O flag value onto an OptLevel.
func parseOptLevel(n int) (backend.OptLevel, error) {
	if n < 0 || n > 3 {
		return backend.O0, fmt.Errorf("invalid optimization level %d (want 0-3)", n)
	}
	return backend.OptLevel(n), nil
}

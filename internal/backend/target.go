// Package backend implements the Output Backend: the
// last mile from a finished LLM module to bytes on disk or a running
// process. It picks a target machine, hands the module to the optimizer,
// then either writes `.ll`/`.bc`/`.o` text or bitcode or object code,
// invokes the system C compiler as a linker for an executable, or runs the
// module in-process through LLVM's MCJIT.
package backend

import (
	"fmt"
	"strings"

	"tinygo.org/x/go-llvm"
)

// Arch, Vendor and OS enumerate the target triple components a build may
// pin explicitly. UnknownArch selects the host's default triple; once an
// Arch is pinned, UnknownVendor renders as "pc" and UnknownOS as "linux-gnu".
type Arch int

const (
	UnknownArch Arch = iota
	X86_64
	X86_32
	Aarch64
	Riscv64
	Riscv32
)

type Vendor int

const (
	UnknownVendor Vendor = iota
	PC
	Apple
	IBM
)

type OS int

const (
	UnknownOS OS = iota
	Linux
	Windows
	Darwin
)

// TargetOptions pins an explicit triple; the zero value means "use the
// host's default target triple".
type TargetOptions struct {
	Arch   Arch
	Vendor Vendor
	OS     OS
}

// IsDarwin reports whether opts names (or the host default resolves to) a
// Darwin target, needed by the module driver's DWARF version choice
// and by this package's dsymutil step.
func (o TargetOptions) IsDarwin() bool {
	if o.OS == Darwin {
		return true
	}
	if o.OS == UnknownOS {
		return strings.Contains(llvm.DefaultTargetTriple(), "apple")
	}
	return false
}

// triple renders o as an LLVM target triple string, or the host's default
// if Arch is unset (Vendor and OS are then ignored).
func (o TargetOptions) triple() (string, error) {
	if o.Arch == UnknownArch {
		return llvm.DefaultTargetTriple(), nil
	}

	var sb strings.Builder
	switch o.Arch {
	case X86_64:
		sb.WriteString("x86_64")
	case X86_32:
		sb.WriteString("x86")
	case Aarch64:
		sb.WriteString("aarch64")
	case Riscv64:
		sb.WriteString("riscv64")
	case Riscv32:
		sb.WriteString("riscv32")
	default:
		return "", fmt.Errorf("backend: unsupported architecture %d", o.Arch)
	}
	sb.WriteByte('-')

	switch o.Vendor {
	case Apple:
		sb.WriteString("apple")
	case IBM:
		sb.WriteString("ibm")
	default:
		sb.WriteString("pc")
	}
	sb.WriteByte('-')

	switch o.OS {
	case Windows:
		sb.WriteString("win32")
	case Darwin:
		sb.WriteString("macosx")
	default:
		sb.WriteString("linux-gnu")
	}
	return sb.String(), nil
}

// cpuFor picks a generic CPU model per architecture ahead of
// CreateTargetMachine.
func cpuFor(a Arch) string {
	switch a {
	case Riscv64:
		return "generic-rv64"
	case Riscv32:
		return "generic-rv32"
	default:
		return "generic"
	}
}

// TargetMachine resolves opts to a concrete llvm.TargetMachine, initializing
// every target's info/MC/asm-parser/asm-printer tables first. Callers must
// Dispose the returned machine.
func TargetMachine(opts TargetOptions) (llvm.TargetMachine, error) {
	llvm.InitializeAllTargetInfos()
	llvm.InitializeAllTargets()
	llvm.InitializeAllTargetMCs()
	llvm.InitializeAllAsmParsers()
	llvm.InitializeAllAsmPrinters()

	triple, err := opts.triple()
	if err != nil {
		return llvm.TargetMachine{}, err
	}
	target, err := llvm.GetTargetFromTriple(triple)
	if err != nil {
		return llvm.TargetMachine{}, fmt.Errorf("backend: resolve target for triple %q: %w", triple, err)
	}

	tm := target.CreateTargetMachine(triple, cpuFor(opts.Arch), "",
		llvm.CodeGenLevelDefault, llvm.RelocDefault, llvm.CodeModelDefault)
	return tm, nil
}

package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tinygo.org/x/go-llvm"
)

// WriteOutput selects an output format by outPath's filename suffix and
// writes it: `.ll` textual IR, `.bc` bitcode, `.o`/`.obj` object code, or
// (any other suffix) a linked executable. The optimizer pipeline runs
// before this hand-off; WriteOutput only consumes the finished module.
func WriteOutput(m llvm.Module, tm llvm.TargetMachine, outPath string, link LinkOptions) error {
	switch strings.ToLower(filepath.Ext(outPath)) {
	case ".ll":
		return writeText(m, outPath)
	case ".bc":
		return writeBitcode(m, outPath)
	case ".o", ".obj":
		return writeObject(m, tm, outPath)
	default:
		return writeExecutable(m, tm, outPath, link)
	}
}

// writeText emits the module's textual LLVM IR representation.
func writeText(m llvm.Module, outPath string) error {
	if err := os.WriteFile(outPath, []byte(m.String()), 0644); err != nil {
		return fmt.Errorf("backend: write %s: %w", outPath, err)
	}
	return nil
}

// writeBitcode emits the module's bitcode serialization.
func writeBitcode(m llvm.Module, outPath string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("backend: write bitcode: %w", err)
	}
	defer f.Close()
	if err := llvm.WriteBitcodeToFile(m, f); err != nil {
		return fmt.Errorf("backend: write bitcode to %s: %w", outPath, err)
	}
	return f.Close()
}

// writeObject compiles m against tm and writes the resulting object
// file through an in-memory buffer.
func writeObject(m llvm.Module, tm llvm.TargetMachine, outPath string) error {
	m.SetDataLayout(tm.CreateTargetData().String())
	m.SetTarget(tm.Triple())

	buf, err := tm.EmitToMemoryBuffer(m, llvm.ObjectFile)
	if err != nil {
		return fmt.Errorf("backend: emit object: %w", err)
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0755); err != nil {
		return fmt.Errorf("backend: write %s: %w", outPath, err)
	}
	return nil
}

// writeExecutable emits an intermediate `<out>.o` object (retained, not
// deleted), then links it into outPath via Link.
func writeExecutable(m llvm.Module, tm llvm.TargetMachine, outPath string, link LinkOptions) error {
	objPath := outPath + ".o"
	if err := writeObject(m, tm, objPath); err != nil {
		return err
	}
	return Link(objPath, outPath, link)
}

// link.go invokes the system C compiler as a linker. The toolchain
// driver itself is out of scope here; this file only builds the argument
// list and shells out.
package backend

import (
	"fmt"
	"os"
	"os/exec"
)

// libSearchPathVars are consulted, in this order, for `-L` directories.
var libSearchPathVars = []string{
	"LIBRARY_PATH", "LD_LIBRARY_PATH", "DYLD_LIBRARY_PATH", "CODON_LIBRARY_PATH",
}

// runtimeLibs is the fixed tail of every link line, after the user's own
// `-l` flags.
var runtimeLibs = []string{"codonrt", "omp", "pthread", "dl", "z", "m", "c"}

// LinkOptions controls Link's behavior beyond the fixed runtime library
// list and environment search-path handling.
type LinkOptions struct {
	// CC names the linker driver to invoke; empty means "cc".
	CC string
	// UserLibs are extra `-l<name>` libraries the emitted program itself
	// depends on, linked before the fixed runtime tail.
	UserLibs []string
	// UserPaths are extra `-L` search directories added after the ones
	// taken from the environment.
	UserPaths []string
	// Darwin selects the dsymutil post-link step on debug builds.
	Darwin bool
	// Debug mirrors lower.Options.Debug: only Darwin debug builds run
	// dsymutil.
	Debug bool
}

// Link invokes the system C compiler to link objPath into an executable at
// outPath, injecting `-L` search paths from the environment, then `-l`
// flags for the caller's own libraries followed by the fixed runtime
// tail. On a Darwin debug build, it runs dsymutil on the result
// afterward.
func Link(objPath, outPath string, opts LinkOptions) error {
	cc := opts.CC
	if cc == "" {
		cc = "cc"
	}

	var args []string
	for _, v := range libSearchPathVars {
		if dir := os.Getenv(v); dir != "" {
			args = append(args, "-L"+dir)
		}
	}
	for _, dir := range opts.UserPaths {
		args = append(args, "-L"+dir)
	}
	for _, lib := range opts.UserLibs {
		args = append(args, "-l"+lib)
	}
	for _, lib := range runtimeLibs {
		args = append(args, "-l"+lib)
	}
	args = append(args, "-o", outPath, objPath)

	cmd := exec.Command(cc, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("backend: link: %s %v: %w", cc, args, err)
	}

	if opts.Darwin && opts.Debug {
		dsym := exec.Command("dsymutil", outPath)
		dsym.Stdout = os.Stdout
		dsym.Stderr = os.Stderr
		if err := dsym.Run(); err != nil {
			return fmt.Errorf("backend: dsymutil: %w", err)
		}
	}
	return nil
}

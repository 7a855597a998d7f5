// Package diag collects and renders diagnostics produced while lowering
// a SIR module: a typed Diagnostic with a severity and an optional source
// location, shared by every stage of this compiler, with a collector that
// is safe to feed from concurrent worker goroutines.
package diag

import (
	"fmt"
	"sync"

	"github.com/fatih/color"
)

// Severity classifies a Diagnostic.
type Severity int

const (
	// Warning is informational; lowering continues.
	Warning Severity = iota
	// CompilationError covers malformed embedded LLM, link failure, output
	// write failure, target machine unavailability.
	CompilationError
	// InvariantViolation covers lowerer assertion failures: missing
	// variable handles, mismatched argument counts, and similar bugs.
	InvariantViolation
	// SubprocessError covers nonzero linker exit status or wait failure.
	SubprocessError
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case CompilationError:
		return "error"
	case InvariantViolation:
		return "invariant violation"
	case SubprocessError:
		return "subprocess error"
	default:
		return "unknown"
	}
}

// Loc is a source location, carried through from the SIR so diagnostics can
// point back at the program being compiled.
type Loc struct {
	File string
	Line int
	Pos  int
}

func (l *Loc) String() string {
	if l == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Pos)
}

// Diagnostic is one reported problem.
type Diagnostic struct {
	Severity Severity
	Stage    string // component that raised it, e.g. "lower.trycatch"
	Message  string
	Loc      *Loc
}

func (d Diagnostic) Error() string {
	if d.Loc != nil {
		return fmt.Sprintf("%s: %s: %s: %s", d.Loc.String(), d.Stage, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.Stage, d.Severity, d.Message)
}

// Collector gathers diagnostics from possibly-concurrent lowering
// goroutines. Directly grounded on util.perror's listen/stop channel pair,
// generalized to typed Diagnostic values and given a synchronous Append
// (lowering is not so hot a path that a channel round-trip per diagnostic
// pays for itself, and a plain mutex keeps Append usable from a deferred
// recover()).
type Collector struct {
	mu   sync.Mutex
	logs []Diagnostic
}

// NewCollector returns an empty Collector with room for n diagnostics.
func NewCollector(n int) *Collector {
	if n < 1 {
		n = 16
	}
	return &Collector{logs: make([]Diagnostic, 0, n)}
}

// Append records a diagnostic. Safe for concurrent use.
func (c *Collector) Append(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, d)
}

// Len returns the number of collected diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

// HasErrors reports whether any collected diagnostic is at or above
// CompilationError severity.
func (c *Collector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.logs {
		if d.Severity != Warning {
			return true
		}
	}
	return false
}

// All returns a snapshot of all collected diagnostics.
func (c *Collector) All() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.logs))
	copy(out, c.logs)
	return out
}

// Print renders every collected diagnostic to stdout, colorized by
// severity: red for errors/invariant violations/subprocess errors, yellow
// for warnings. Mirrors the coloring convention used by this compiler's
// peers for diagnostic output.
func (c *Collector) Print() {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	for _, d := range c.All() {
		if d.Severity == Warning {
			yellow.Print("warning: ")
		} else {
			red.Print(d.Severity.String() + ": ")
		}
		fmt.Println(d.Error())
	}
}

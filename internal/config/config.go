// Package config loads build configuration from a sirlower.toml manifest.
// Every field has a zero-value default so a missing manifest is not an
// error: command-line flags layer on top of whatever the manifest set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestName is the file Find searches for, walking up from the start
// directory.
const ManifestName = "sirlower.toml"

// Target pins components of the target triple; empty fields fall back to
// the host default.
type Target struct {
	Arch   string `toml:"arch"`
	Vendor string `toml:"vendor"`
	OS     string `toml:"os"`
	CPU    string `toml:"cpu"`
}

// Link configures the executable link step.
type Link struct {
	CC    string   `toml:"cc"`
	Libs  []string `toml:"libs"`
	Paths []string `toml:"paths"`
}

// Lower configures the lowering session itself.
type Lower struct {
	Debug           bool `toml:"debug"`
	Threads         int  `toml:"threads"`
	PreciseCoroFree bool `toml:"precise_coro_free"`
}

// Config is the root of a sirlower.toml manifest.
type Config struct {
	Target Target `toml:"target"`
	Link   Link   `toml:"link"`
	Lower  Lower  `toml:"lower"`

	// Dir is the directory the manifest was found in; empty when defaults
	// were used because no manifest exists.
	Dir string `toml:"-"`
}

// Default returns a Config with every field at its zero-value default.
func Default() Config { return Config{} }

// Load reads the manifest at path. The path must name the file itself,
// not a directory.
func Load(path string) (Config, error) {
	var c Config
	meta, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return Config{}, fmt.Errorf("config: %s: unknown key %q", path, undec[0].String())
	}
	c.Dir = filepath.Dir(path)
	return c, nil
}

// Find walks up from dir looking for a manifest, returning the loaded
// Config or Default() if no manifest exists anywhere above dir.
func Find(dir string) (Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	for {
		candidate := filepath.Join(abs, ManifestName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return Load(candidate)
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", candidate, statErr)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return Default(), nil
		}
		abs = parent
	}
}

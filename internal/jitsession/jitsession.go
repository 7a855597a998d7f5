// Package jitsession persists the state of an interactive JIT session
// (input history, loaded module paths, dynamic libraries) across restarts,
// so a resumed REPL can reload what the previous one had and offer the
// same line history. State lives under the user cache directory as one
// msgpack payload per named session.
package jitsession

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// schemaVersion invalidates stale payloads when the State layout changes.
const schemaVersion uint16 = 1

// maxHistory bounds how many input lines a session retains.
const maxHistory = 1000

// State is everything a restarted REPL needs to pick up where the last
// one stopped.
type State struct {
	Schema uint16

	// History holds input lines, oldest first.
	History []string
	// Modules lists `.sir` files loaded into the session, in load order.
	Modules []string
	// Libs lists dynamic libraries loaded into the JIT.
	Libs []string
	// SavedAt records when the state was written.
	SavedAt time.Time
}

// Store reads and writes named session states on disk.
type Store struct {
	dir string
}

// Open initializes a Store under the user cache directory (respecting
// XDG_CACHE_HOME), creating it if needed.
func Open(app string) (*Store, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("jitsession: %w", err)
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, app, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jitsession: %w", err)
	}
	return &Store{dir: dir}, nil
}

// OpenAt initializes a Store rooted at an explicit directory.
func OpenAt(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jitsession: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.dir, name+".session")
}

// Load returns the named session's state, or a fresh empty State if none
// was saved before or the saved payload has an incompatible schema. A
// stale payload is not an error: the session simply starts over.
func (s *Store) Load(name string) (State, error) {
	raw, err := os.ReadFile(s.pathFor(name))
	if errors.Is(err, os.ErrNotExist) {
		return State{Schema: schemaVersion}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("jitsession: %w", err)
	}
	var st State
	if err := msgpack.Unmarshal(raw, &st); err != nil || st.Schema != schemaVersion {
		return State{Schema: schemaVersion}, nil
	}
	return st, nil
}

// Save writes the named session's state, truncating history to the most
// recent maxHistory lines. The write goes through a temp file and rename
// so a crash mid-save never corrupts the previous state.
func (s *Store) Save(name string, st State) error {
	st.Schema = schemaVersion
	st.SavedAt = time.Now()
	if len(st.History) > maxHistory {
		st.History = st.History[len(st.History)-maxHistory:]
	}
	raw, err := msgpack.Marshal(&st)
	if err != nil {
		return fmt.Errorf("jitsession: %w", err)
	}
	tmp := s.pathFor(name) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("jitsession: %w", err)
	}
	if err := os.Rename(tmp, s.pathFor(name)); err != nil {
		return fmt.Errorf("jitsession: %w", err)
	}
	return nil
}

// Remove deletes the named session's saved state, if any.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.pathFor(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

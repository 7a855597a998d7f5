package backend

import "os"

// readFileString is a tiny test convenience wrapper.
func readFileString(path string) (string, error) {
	raw, err := os.ReadFile(path)
	return string(raw), err
}

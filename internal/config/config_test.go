package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
[target]
arch = "x86_64"
os = "linux"

[link]
cc = "clang"
libs = ["m", "curl"]
paths = ["/opt/seq/lib"]

[lower]
debug = true
threads = 4
precise_coro_free = true
`

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ManifestName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, t.TempDir(), sampleManifest)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "x86_64", c.Target.Arch)
	assert.Equal(t, "linux", c.Target.OS)
	assert.Equal(t, "clang", c.Link.CC)
	assert.Equal(t, []string{"m", "curl"}, c.Link.Libs)
	assert.Equal(t, []string{"/opt/seq/lib"}, c.Link.Paths)
	assert.True(t, c.Lower.Debug)
	assert.Equal(t, 4, c.Lower.Threads)
	assert.True(t, c.Lower.PreciseCoroFree)
	assert.Equal(t, filepath.Dir(path), c.Dir)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "[lower]\nthreds = 2\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threds")
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[lower]\nthreads = 2\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	c, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Lower.Threads)
	assert.Equal(t, root, c.Dir)
}

func TestFindDefaultsWhenAbsent(t *testing.T) {
	c, err := Find(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Lower, c.Lower)
	assert.Empty(t, c.Dir)
}

package jitsession

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingIsFresh(t *testing.T) {
	store, err := OpenAt(t.TempDir())
	require.NoError(t, err)

	st, err := store.Load("nope")
	require.NoError(t, err)
	assert.Empty(t, st.History)
	assert.Empty(t, st.Modules)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := OpenAt(t.TempDir())
	require.NoError(t, err)

	in := State{
		History: []string{":run fib.sir", ":ir fib.sir"},
		Modules: []string{"fib.sir"},
		Libs:    []string{"m"},
	}
	require.NoError(t, store.Save("work", in))

	out, err := store.Load("work")
	require.NoError(t, err)
	assert.Equal(t, in.History, out.History)
	assert.Equal(t, in.Modules, out.Modules)
	assert.Equal(t, in.Libs, out.Libs)
	assert.False(t, out.SavedAt.IsZero())
}

func TestSaveTruncatesHistory(t *testing.T) {
	store, err := OpenAt(t.TempDir())
	require.NoError(t, err)

	long := make([]string, maxHistory+50)
	for i := range long {
		long[i] = "line"
	}
	require.NoError(t, store.Save("big", State{History: long}))

	out, err := store.Load("big")
	require.NoError(t, err)
	assert.Len(t, out.History, maxHistory)
}

func TestCorruptPayloadStartsOver(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenAt(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.pathFor("bad"), []byte("not msgpack"), 0o644))

	st, err := store.Load("bad")
	require.NoError(t, err)
	assert.Empty(t, st.History)
}

func TestRemove(t *testing.T) {
	store, err := OpenAt(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save("gone", State{History: []string{"x"}}))
	require.NoError(t, store.Remove("gone"))

	st, err := store.Load("gone")
	require.NoError(t, err)
	assert.Empty(t, st.History)
	require.NoError(t, store.Remove("gone"), "removing a missing session is not an error")
}

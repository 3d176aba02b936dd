package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverridesStoreReplayMissingFileIsEmpty(t *testing.T) {
	store := newOverridesStore(filepath.Join(t.TempDir(), "missing.txt"))
	lines, err := store.replay()
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestOverridesStoreAppendAndReplayRoundTrip(t *testing.T) {
	store := newOverridesStore(filepath.Join(t.TempDir(), "custom.txt"))

	require.NoError(t, store.appendAdd("example.com"))
	require.NoError(t, store.appendAdd("ads.example.com"))
	require.NoError(t, store.appendDelete("ads.example.com"))

	lines, err := store.replay()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, overrideLine{Domain: "example.com"}, lines[0])
	require.Equal(t, overrideLine{Domain: "ads.example.com"}, lines[1])
	require.Equal(t, overrideLine{Domain: "ads.example.com", Deleted: true}, lines[2])
}

func TestOverridesStoreClearTruncates(t *testing.T) {
	store := newOverridesStore(filepath.Join(t.TempDir(), "custom.txt"))
	require.NoError(t, store.appendAdd("example.com"))
	require.NoError(t, store.clear())

	lines, err := store.replay()
	require.NoError(t, err)
	require.Empty(t, lines)
}

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

func TestAcquireCreatesFixedSubpaths(t *testing.T) {
	root := t.TempDir()
	w, err := Acquire(root, nil)
	require.NoError(t, err)

	for _, dir := range []string{w.ChrootDir, w.CacheDir, w.ISODir, w.EFIDir, w.LiveDir, w.StateDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestAcquireRefusesDirtyWorkspace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, dirtyMarker), []byte("dirty"), 0o644))

	_, err := Acquire(root, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, zerrors.ErrWorkspaceDirty)
}

func TestReleaseWithNoMountsSucceeds(t *testing.T) {
	root := t.TempDir()
	w, err := Acquire(root, nil)
	require.NoError(t, err)
	require.NoError(t, w.Release())

	_, statErr := os.Stat(filepath.Join(root, dirtyMarker))
	assert.True(t, os.IsNotExist(statErr))
}

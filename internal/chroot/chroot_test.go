package chroot

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

func TestEnterReturnsBusyWhenAlreadyActive(t *testing.T) {
	e := NewExecutor(t.TempDir(), "", false, nil)
	require.True(t, e.mu.TryLock(), "precondition: executor lock must be free")

	_, err := e.Enter()
	require.Error(t, err)
	assert.ErrorIs(t, err, zerrors.ErrChrootBusy)

	e.mu.Unlock()
}

func TestEnterBindMountsRequireRoot(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("bind-mounting the kernel filesystems requires root; skipping under an unprivileged test runner")
	}

	dir := t.TempDir()
	for _, rel := range bindTargets {
		require.NoError(t, os.MkdirAll(dir+"/"+rel, 0o755))
	}

	e := NewExecutor(dir, "", false, nil)
	s, err := e.Enter()
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

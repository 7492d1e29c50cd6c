package checkpoint

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSuccessPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	resume, _ := json.Marshal(map[string]string{"kernel_version": "6.8.0-proxmox"})
	require.NoError(t, s.RecordSuccess("KernelAcquisition", resume))

	reopened, err := Open(dir)
	require.NoError(t, err)
	cp, ok := reopened.Get("KernelAcquisition")
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, cp.Status)
	assert.JSONEq(t, string(resume), string(cp.ResumeData))
}

func TestRecordErrorCarriesMessage(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.RecordError("ZFSBuild", errors.New("dkms build failed")))
	cp, ok := s.Get("ZFSBuild")
	require.True(t, ok)
	assert.Equal(t, StatusError, cp.Status)
	assert.Equal(t, "dkms build failed", cp.Error)
}

func TestFirstIncompleteSkipsCompletedPrefix(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	order := []string{"WorkspaceSetup", "Debootstrap", "KernelAcquisition"}
	require.NoError(t, s.RecordSuccess("WorkspaceSetup", nil))
	require.NoError(t, s.RecordSuccess("Debootstrap", nil))

	assert.Equal(t, 2, s.FirstIncomplete(order))
}

func TestFirstIncompleteTreatsErrorAsIncomplete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	order := []string{"WorkspaceSetup", "Debootstrap"}
	require.NoError(t, s.RecordSuccess("WorkspaceSetup", nil))
	require.NoError(t, s.RecordError("Debootstrap", errors.New("network error")))

	assert.Equal(t, 1, s.FirstIncomplete(order))
}

func TestOpenStartsEmptyWhenNoFileExists(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, ok := s.Get("anything")
	assert.False(t, ok)
}

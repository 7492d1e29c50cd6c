package modules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/workspace"
)

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	entry := log.NewEntry(log.StandardLogger())
	ws, err := workspace.Acquire(root, entry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Release() })
	return ws
}

func TestBootloaderSetupZFSBootMenuOnly(t *testing.T) {
	ws := newTestWorkspace(t)
	m := &BootloaderSetup{Deps: &Deps{Workspace: ws}}

	plan := &buildspec.BuildPlan{
		Dracut: buildspec.DracutConfig{CommandLine: "root=zfs:AUTO"},
	}

	_, err := m.Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(ws.EFIDir, "EFI", "BOOT", "BOOTX64.EFI"))
	assert.FileExists(t, filepath.Join(ws.EFIDir, "EFI", "BOOT", "zfsbootmenu.conf"))
	assert.NoDirExists(t, filepath.Join(ws.EFIDir, "EFI", "OC"))
}

func TestBootloaderSetupTwoStageBootStagesOpenCore(t *testing.T) {
	ws := newTestWorkspace(t)
	m := &BootloaderSetup{Deps: &Deps{Workspace: ws}}

	plan := &buildspec.BuildPlan{
		Bootloader: buildspec.BootloaderConfig{
			EnableOpenCore:     true,
			OpenCoreDrivers:    []string{"NvmExpressDxe.efi", "OpenRuntime.efi"},
			DevicePathTemplate: "PciRoot(0x0)/Pci(0x1,0x0)",
		},
	}

	_, err := m.Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(ws.EFIDir, "EFI", "BOOT", "BOOTX64.EFI"))
	ocConfig := filepath.Join(ws.EFIDir, "EFI", "OC", "config.plist")
	assert.FileExists(t, ocConfig)

	content, err := os.ReadFile(ocConfig)
	require.NoError(t, err)
	assert.Contains(t, string(content), "PciRoot(0x0)/Pci(0x1,0x0)")
	assert.Contains(t, string(content), "ZFSBootMenu")
	assert.FileExists(t, filepath.Join(ws.EFIDir, "EFI", "OC", "Drivers", "OpenRuntime.efi"))
	assert.FileExists(t, filepath.Join(ws.EFIDir, "EFI", "OC", "Drivers", "NvmExpressDxe.efi"))
}

func TestBootloaderSetupWarnsOnMissingDevicePathTemplate(t *testing.T) {
	ws := newTestWorkspace(t)
	m := &BootloaderSetup{Deps: &Deps{Workspace: ws}}

	plan := &buildspec.BuildPlan{
		Bootloader: buildspec.BootloaderConfig{EnableOpenCore: true},
	}

	_, err := m.Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(ws.EFIDir, "EFI", "OC", "config.plist"))
	require.NoError(t, err)
	assert.Contains(t, string(content), defaultDevicePathTemplate)
}

func TestMergeUniquePreservesBaseOrderAndDedups(t *testing.T) {
	got := mergeUnique([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

package buildspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesHardwareOverlayScalarReplace(t *testing.T) {
	base := writeTemp(t, minimalPlan)
	overlayDir := t.TempDir()
	overlayPath := filepath.Join(overlayDir, "r730xd.yaml")
	overlay := `
hardware_overlay:
  name: r730xd
zfs_config:
  compression: zstd-12
  ashift: "12"
`
	require.NoError(t, os.WriteFile(overlayPath, []byte(overlay), 0o644))

	plan, err := Load(base, []string{overlayPath}, nil)
	require.NoError(t, err)
	assert.Equal(t, "zstd-12", plan.Zfs.Compression)
	assert.Equal(t, "12", plan.Zfs.Ashift)
	assert.Equal(t, "mirror", plan.Zfs.DefaultRaidType)
	require.NotNil(t, plan.Hardware)
	assert.Equal(t, "r730xd", plan.Hardware.Name)
}

func TestLoadOverlayReplacesListsRatherThanConcatenating(t *testing.T) {
	withPackages := `
builder_config:
  release: bookworm
zfs_config:
  compression: lz4
proxmox_config:
  version: "8.2"
  packages: [pve-manager, qemu-server]
bootloader_config:
  primary: zfsbootmenu
dracut_config:
  compression: zstd
modules:
  - name: WorkspaceSetup
    enabled: true
`
	base := writeTemp(t, withPackages)
	overlayPath := filepath.Join(t.TempDir(), "overlay.yaml")
	overlay := "proxmox_config:\n  packages: [pve-manager]\n"
	require.NoError(t, os.WriteFile(overlayPath, []byte(overlay), 0o644))

	plan, err := Load(base, []string{overlayPath}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"pve-manager"}, plan.Proxmox.Packages)
}

func TestLoadOverlayRejectsUnknownOption(t *testing.T) {
	base := writeTemp(t, minimalPlan)
	overlayPath := filepath.Join(t.TempDir(), "overlay.yaml")
	overlay := "zfs_config:\n  not_a_real_field: true\n"
	require.NoError(t, os.WriteFile(overlayPath, []byte(overlay), 0o644))

	_, err := Load(base, []string{overlayPath}, nil)
	require.Error(t, err)
}

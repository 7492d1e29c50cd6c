package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/Z-FORGE/internal/chroot"
)

func TestMksquashfsCompArgs(t *testing.T) {
	tCases := []struct {
		in   string
		want []string
	}{
		{"lz4", []string{"-comp", "lz4"}},
		{"zstd", []string{"-comp", "zstd"}},
		{"zstd-19", []string{"-comp", "zstd"}},
		{"gzip-6", []string{"-comp", "gzip"}},
		{"off", []string{"-noI", "-noD", "-noF", "-noX"}},
		{"", []string{"-comp", "gzip"}},
	}
	for _, tc := range tCases {
		assert.Equal(t, tc.want, mksquashfsCompArgs(tc.in), "compression %q", tc.in)
	}
}

func TestWriteChecksumsProducesSidecars(t *testing.T) {
	dir := t.TempDir()
	iso := filepath.Join(dir, "out.iso")
	require.NoError(t, os.WriteFile(iso, []byte("not really an iso"), 0o644))

	require.NoError(t, writeChecksums(iso))

	sha, err := os.ReadFile(iso + ".sha256")
	require.NoError(t, err)
	md5sum, err := os.ReadFile(iso + ".md5")
	require.NoError(t, err)

	// coreutils-compatible "<hex>  <name>" format
	assert.Len(t, string(sha), 64+2+len("out.iso")+1)
	assert.Contains(t, string(sha), "  out.iso\n")
	assert.Len(t, string(md5sum), 32+2+len("out.iso")+1)
	assert.Contains(t, string(md5sum), "  out.iso\n")
}

func TestStageISOLinuxCopiesStageFromChroot(t *testing.T) {
	ws := newTestWorkspace(t)
	m := &ISOGeneration{Deps: &Deps{
		Workspace: ws,
		Chroot:    chroot.NewExecutor(ws.ChrootDir, "", false, nil),
	}}

	for _, rel := range []string{
		"usr/lib/ISOLINUX/isolinux.bin",
		"usr/lib/syslinux/modules/bios/ldlinux.c32",
	} {
		full := filepath.Join(ws.ChrootDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}

	require.NoError(t, m.stageISOLinux())

	assert.FileExists(t, filepath.Join(ws.ISODir, "isolinux", "isolinux.bin"))
	assert.FileExists(t, filepath.Join(ws.ISODir, "isolinux", "ldlinux.c32"))

	cfg, err := os.ReadFile(filepath.Join(ws.ISODir, "isolinux", "isolinux.cfg"))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "KERNEL /boot/vmlinuz")
	assert.Contains(t, string(cfg), "zforge.toram=yes")
}

func TestCopyFirstExistingErrsWhenNoneExist(t *testing.T) {
	dir := t.TempDir()
	err := copyFirstExisting([]string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}, filepath.Join(dir, "out"))
	assert.Error(t, err)
}

func TestEFITreeLandsAtISORoot(t *testing.T) {
	ws := newTestWorkspace(t)

	src := filepath.Join(ws.EFIDir, "EFI", "BOOT", "BOOTX64.EFI")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("efi"), 0o644))

	require.NoError(t, copyTree(ws.EFIDir, ws.ISODir))

	// spec fixes the layout as /EFI/BOOT/BOOTX64.EFI, not /EFI/EFI/...
	assert.FileExists(t, filepath.Join(ws.ISODir, "EFI", "BOOT", "BOOTX64.EFI"))
	assert.NoDirExists(t, filepath.Join(ws.ISODir, "EFI", "EFI"))
}

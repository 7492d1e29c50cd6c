package modules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDracutConfTemplateRendersRequiredEntries(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, dracutConfTemplate.Execute(&buf, dracutConfData{
		Compression:  "zstd",
		Hostonly:     "no",
		CommandLine:  "root=zfs:AUTO",
		ExtraDrivers: []string{"nvme", "mpt3sas"},
	}))
	conf := buf.String()

	assert.Contains(t, conf, `add_dracutmodules+=" zfs "`)
	assert.Contains(t, conf, `compress="zstd"`)
	assert.Contains(t, conf, `hostonly="no"`)
	assert.Contains(t, conf, `kernel_cmdline="root=zfs:AUTO"`)
	assert.Contains(t, conf, "/usr/sbin/zfs /usr/sbin/zpool /etc/hostid /etc/zfs/zpool.cache")
	assert.Contains(t, conf, `add_drivers+=" nvme mpt3sas "`)
}

func TestDracutConfTemplateOmitsDriversLineWhenEmpty(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, dracutConfTemplate.Execute(&buf, dracutConfData{
		Compression: "zstd",
		Hostonly:    "no",
		CommandLine: "root=zfs:AUTO",
	}))
	assert.NotContains(t, buf.String(), "add_drivers")
}

func TestCopyToRAMHookGuardsMemoryHeadroom(t *testing.T) {
	// The hook is shell, not Go, but its contract tokens are frozen by
	// the cmdline interface: the toram triggers, the findiso default,
	// and the 75%-of-RAM cap must all be present verbatim.
	assert.Contains(t, copyToRAMHook, "zforge.toram")
	assert.Contains(t, copyToRAMHook, "getarg toram")
	assert.Contains(t, copyToRAMHook, "/live/filesystem.squashfs")
	assert.Contains(t, copyToRAMHook, "256 * 1024")
	assert.Contains(t, copyToRAMHook, "mem_kb * 75 / 100")
	assert.Contains(t, copyToRAMHook, "losetup")

	// the hook must run after the live root is assembled and must take
	// over $NEWROOT itself, not publish a side path
	assert.Contains(t, copyToRAMModuleSetup, "inst_hook pre-pivot")
	assert.Contains(t, copyToRAMHook, `umount -l "$NEWROOT"`)
	assert.Contains(t, copyToRAMHook, `"$NEWROOT"`)
}

func TestBoolYesNo(t *testing.T) {
	assert.Equal(t, "yes", boolYesNo(true))
	assert.Equal(t, "no", boolYesNo(false))
}

func TestParseMetaVersion(t *testing.T) {
	v, ok := parseMetaVersion("Version:       2.2.4")
	require.True(t, ok)
	assert.Equal(t, "2.2.4", v)

	_, ok = parseMetaVersion("Release:       1")
	assert.False(t, ok)
}

func TestLastLineSkipsTrailingBlanks(t *testing.T) {
	assert.Equal(t, "6.1.0-18-amd64", lastLine([]string{"6.1.0-17-amd64", "6.1.0-18-amd64", "", "  "}))
	assert.Equal(t, "", lastLine(nil))
}

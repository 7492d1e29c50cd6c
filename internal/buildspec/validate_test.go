package buildspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

func validPlan() *BuildPlan {
	p := &BuildPlan{
		Builder:    BuilderConfig{Release: "bookworm", KernelSelector: "latest"},
		Zfs:        ZFSConfig{Compression: "lz4", DefaultRaidType: "mirror", Ashift: "auto"},
		Proxmox:    ProxmoxConfig{Version: "8.2"},
		Bootloader: BootloaderConfig{Primary: "zfsbootmenu"},
		Dracut:     DracutConfig{Compression: "zstd"},
		Modules:    []ModuleEntry{{Name: "WorkspaceSetup", Enabled: true}},
	}
	return p
}

func TestValidateAcceptsValidPlan(t *testing.T) {
	require.NoError(t, Validate(validPlan()))
}

func TestValidateRejectsEmptyModuleList(t *testing.T) {
	p := validPlan()
	p.Modules = nil
	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, zerrors.ErrMissingRequired)
}

func TestValidateRejectsDuplicateModules(t *testing.T) {
	p := validPlan()
	p.Modules = append(p.Modules, ModuleEntry{Name: "WorkspaceSetup", Enabled: false})
	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, zerrors.ErrValidation)
}

func TestValidateCompressionEnum(t *testing.T) {
	cases := []struct {
		compression string
		wantErr     bool
	}{
		{"lz4", false},
		{"off", false},
		{"gzip", false},
		{"gzip-9", false},
		{"zstd-19", false},
		{"zstd-20", true},
		{"gzip-0", true},
		{"bogus", true},
	}
	for _, c := range cases {
		p := validPlan()
		p.Zfs.Compression = c.compression
		err := Validate(p)
		if c.wantErr {
			assert.Errorf(t, err, "compression %q should be rejected", c.compression)
		} else {
			assert.NoErrorf(t, err, "compression %q should be accepted", c.compression)
		}
	}
}

func TestValidateRejectsUnknownRelease(t *testing.T) {
	p := validPlan()
	p.Builder.Release = "sid"
	err := Validate(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, zerrors.ErrValidation)
}

func TestValidateARCMaxAcceptsAutoOrBytes(t *testing.T) {
	p := validPlan()
	p.Hardware = &HardwareOverlay{Raw: map[string]interface{}{"zfs_arc_max_bytes": "auto"}}
	require.NoError(t, Validate(p))

	p.Hardware.Raw["zfs_arc_max_bytes"] = float64(17179869184)
	require.NoError(t, Validate(p))

	p.Hardware.Raw["zfs_arc_max_bytes"] = "-5"
	require.Error(t, Validate(p))
}

package installer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePoolName(t *testing.T) {
	tCases := []struct {
		desc    string
		name    string
		wantErr bool
	}{
		{"simple valid name", "rpool", false},
		{"single letter", "r", false},
		{"single digit rejected", "1", true},
		{"starts with digit", "1pool", true},
		{"trailing hyphen rejected", "rpool-", true},
		{"dots and underscores allowed", "r.pool_1", false},
		{"empty string rejected", "", true},
		{"starts with underscore", "_rpool", true},
	}
	for _, tc := range tCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := ValidatePoolName(tc.name)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildCreateArgvPlainMirror(t *testing.T) {
	gs := &GlobalStorage{
		ZFSNewPoolName: "rpool",
		Disks:          []string{"sda", "sdb"},
		RaidType:       "mirror",
		Ashift:         12,
		Compression:    "zstd",
		Atime:          false,
	}

	argv, err := BuildCreateArgv(gs)
	require.NoError(t, err)

	assert.Contains(t, argv, "mirror")
	assert.Contains(t, argv, "sda")
	assert.Contains(t, argv, "sdb")
	assert.Contains(t, argv, "ashift=12")
	assert.Contains(t, argv, "compression=zstd")
	assert.Contains(t, argv, "atime=off")
	assert.NotContains(t, argv, "keyformat=passphrase")

	// the pending command is published back for the confirmation screen
	assert.Equal(t, argv, gs.ZFSNewPoolCommand)
}

func TestBuildCreateArgvStripeOmitsRaidToken(t *testing.T) {
	gs := &GlobalStorage{
		ZFSNewPoolName: "rpool",
		Disks:          []string{"sda"},
		RaidType:       "stripe",
	}
	argv, err := BuildCreateArgv(gs)
	require.NoError(t, err)
	assert.NotContains(t, argv, "stripe")
	assert.Contains(t, argv, "sda")
}

func TestBuildCreateArgvEncryption(t *testing.T) {
	gs := &GlobalStorage{
		ZFSNewPoolName:    "rpool",
		Disks:             []string{"sda", "sdb"},
		RaidType:          "mirror",
		EncryptionEnabled: true,
		Passphrase:        "correct horse battery staple",
	}

	argv, err := BuildCreateArgv(gs)
	require.NoError(t, err)

	assert.Contains(t, argv, "encryption=aes-256-gcm")
	assert.Contains(t, argv, "keyformat=passphrase")
	assert.Contains(t, argv, "keylocation=file:///run/.zforge-key")
}

func TestBuildCreateArgvRejectsInvalidPoolName(t *testing.T) {
	gs := &GlobalStorage{ZFSNewPoolName: "-bad", Disks: []string{"sda"}}
	_, err := BuildCreateArgv(gs)
	assert.Error(t, err)
}

func TestBuildCreateArgvRejectsNoDisks(t *testing.T) {
	gs := &GlobalStorage{ZFSNewPoolName: "rpool"}
	_, err := BuildCreateArgv(gs)
	assert.Error(t, err)
}

package installer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalStorageRoundTrip(t *testing.T) {
	gs := &GlobalStorage{
		ZFSOperationMode: ModeNewPool,
		ZFSNewPoolName:   "rpool",
		Disks:            []string{"sda", "sdb"},
		RaidType:         "mirror",
		Ashift:           12,
		Compression:      "zstd",
		EncryptionEnabled: true,
		EncryptionAlgo:    "aes-256-gcm",
		Passphrase:        "correct horse battery staple",
	}

	raw, err := gs.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, gs, got)
}

func TestClearEphemeralZeroesPassphraseOnly(t *testing.T) {
	gs := &GlobalStorage{
		ZFSNewPoolName: "rpool",
		Passphrase:     "correct horse battery staple",
	}
	gs.ClearEphemeral()
	assert.Empty(t, gs.Passphrase)
	assert.Equal(t, "rpool", gs.ZFSNewPoolName)
}

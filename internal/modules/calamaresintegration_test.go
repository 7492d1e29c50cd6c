package modules

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/Z-FORGE/internal/modules/calamaresassets"
)

func TestEveryRequiredInstallerModuleIsEmbedded(t *testing.T) {
	for _, name := range calamaresassets.RequiredModules {
		info, err := fs.Stat(calamaresassets.FS, name)
		require.NoError(t, err, "module %s", name)
		assert.True(t, info.IsDir(), "module %s should be a directory", name)

		_, err = fs.Stat(calamaresassets.FS, name+"/module.desc")
		assert.NoError(t, err, "module %s is missing its descriptor", name)
	}
}

func TestSettingsConfSequencesMatchContract(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, settingsConfTemplate.Execute(&buf, struct{ Show, Exec []string }{showSequence, execSequence}))
	conf := buf.String()

	assert.Contains(t, conf, "- show:")
	assert.Contains(t, conf, "- exec:")
	assert.Contains(t, conf, "- telemetryconsent")

	// telemetryjob must be the final exec step.
	assert.Equal(t, "telemetryjob", execSequence[len(execSequence)-1])
	lines := strings.Split(strings.TrimSpace(conf), "\n")
	assert.Equal(t, "    - telemetryjob", lines[len(lines)-1])
}

func TestExecSequenceIsExactlyTheFrozenContract(t *testing.T) {
	assert.Equal(t, []string{
		"unpack",
		"fstab",
		"users",
		"networkcfg",
		"bootloader",
		"zfsbootloader",
		"proxmoxconfig",
		"securityhardening",
		"zforgefinalize",
		"telemetryjob",
	}, execSequence)
}

func TestShowSequenceOrdersConsentBeforePartitioning(t *testing.T) {
	consent, partition := -1, -1
	for i, s := range showSequence {
		switch s {
		case "telemetryconsent":
			consent = i
		case "partition":
			partition = i
		}
	}
	require.NotEqual(t, -1, consent)
	require.NotEqual(t, -1, partition)
	assert.Less(t, consent, partition)
}

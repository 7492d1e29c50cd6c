package archiveutil

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBundleWriteIncludesFilesAndExtras(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "checkpoints.json"), []byte(`{}`), 0o644))

	dest := filepath.Join(dir, "support-bundle.tar.gz")
	b := &Bundle{
		Includes: []string{stateDir},
		Extra:    map[string][]byte{"plan.yaml": []byte("builder_config: {}\n")},
	}
	require.NoError(t, b.Write(dest))

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gr)

	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	require.Contains(t, names, "state/")
	require.Contains(t, names, "state/checkpoints.json")
	require.Contains(t, names, "plan.yaml")
}

func TestBundleWriteSkipsMissingIncludes(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "bundle.tar.gz")
	b := &Bundle{Includes: []string{filepath.Join(dir, "does-not-exist")}}
	require.NoError(t, b.Write(dest))

	_, err := os.Stat(dest)
	require.NoError(t, err)
}

// Package archiveutil builds the post-mortem support bundle (SPEC_FULL.md
// §12): on pipeline abort it tars up the workspace's state directory, the
// captured failure tails, and the normalized build plan into a single
// gzip'd tarball, adapted from gangplank/remote/archive.go's CosaArchive.
package archiveutil

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Bundle describes the paths to fold into a support bundle tarball.
// Includes are existing files or directories copied recursively; Extra
// holds in-memory content (e.g. the normalized BuildPlan YAML) that has
// no file on disk to read from.
type Bundle struct {
	Includes []string
	Extra    map[string][]byte
}

// Write creates dest (overwriting it if present) containing every path
// in Includes under its base name, plus every Extra entry under its map
// key, gzip-compressed tar format.
func (b *Bundle) Write(dest string) error {
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return err
		}
	}

	tarFile, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer tarFile.Close()

	gWriter := gzip.NewWriter(tarFile)
	defer gWriter.Close()

	tarWriter := tar.NewWriter(gWriter)
	defer tarWriter.Close()

	for _, path := range b.Includes {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				log.WithField("path", path).Debug("support bundle: skipping missing path")
				continue
			}
			return err
		}
		if err := writeArchive(path, filepath.Base(path), info, tarWriter); err != nil {
			return err
		}
		log.WithField("path", path).Debug("support bundle: added path")
	}

	for name, content := range b.Extra {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tarWriter.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tarWriter.Write(content); err != nil {
			return err
		}
	}

	log.WithField("dest", dest).Info("support bundle written")
	return nil
}

// writeArchive recursively writes path (a file or directory) into the
// tar stream under archiveName.
func writeArchive(path, archiveName string, info os.FileInfo, writer *tar.Writer) error {
	if info.IsDir() {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = archiveName + "/"
		if err := writer.WriteHeader(hdr); err != nil {
			return err
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			childInfo, err := e.Info()
			if err != nil {
				return err
			}
			if err := writeArchive(filepath.Join(path, e.Name()), archiveName+"/"+e.Name(), childInfo, writer); err != nil {
				return err
			}
		}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := writer.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(writer, f)
	return err
}

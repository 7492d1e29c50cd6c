// Package modules implements the eleven pipeline stages (spec.md
// §4.5): WorkspaceSetup, Debootstrap, KernelAcquisition, ZFSBuild,
// DracutConfig, ProxmoxIntegration, BootloaderSetup, LiveEnvironment,
// CalamaresIntegration, SecurityHardening, and ISOGeneration. Each
// module is a small pipeline.Module that drives the chroot via
// internal/chroot and internal/procexec, writing configuration the
// way gangplank/internal/spec/stages.go renders per-stage scripts
// with text/template before handing them to a subprocess.
package modules

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/SWORDIntel/Z-FORGE/internal/chroot"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/retry"
	"github.com/SWORDIntel/Z-FORGE/internal/workspace"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// Deps is the shared dependency set every module needs: the workspace
// directory tree and the chroot executor bound to it.
type Deps struct {
	Workspace *workspace.Workspace
	Chroot    *chroot.Executor
	Entry     *log.Entry
}

func (d *Deps) entry() *log.Entry {
	if d.Entry != nil {
		return d.Entry
	}
	return log.NewEntry(log.StandardLogger())
}

// runInChroot opens one Enter/Run/Close cycle for a single command.
// No module currently calls it; each module opens its own session with
// d.Chroot.Enter().
func (d *Deps) runInChroot(ctx context.Context, argv ...string) error {
	s, err := d.Chroot.Enter()
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = s.Run(ctx, argv, nil, procexec.Options{Entry: d.entry()})
	return err
}

// aptInstall runs apt-get install -y for the given packages inside an
// already-open chroot session, retrying transient network failures
// per spec.md §4.9 (3 attempts, 2s base, 30s cap).
func aptInstall(ctx context.Context, s *chroot.Session, entry *log.Entry, packages ...string) error {
	if len(packages) == 0 {
		return nil
	}
	argv := append([]string{"apt-get", "install", "-y"}, packages...)
	return retry.Default.Do(ctx, entry, func() error {
		_, err := s.Run(ctx, argv, []string{"DEBIAN_FRONTEND=noninteractive"}, procexec.Options{Entry: entry})
		if err != nil {
			return fmt.Errorf("%w: %v", zerrors.ErrPackageInstall, err)
		}
		return nil
	})
}

// lastLine returns the last non-empty trailing line captured from a
// subprocess's output tail, the common case for scraping a single
// value (a resolved version string) out of dpkg-query/cat output.
func lastLine(tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(tail[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// parseMetaVersion extracts the value of a "Version:" line from an
// OpenZFS META file, the format upstream's own release tooling reads.
func parseMetaVersion(line string) (string, bool) {
	const prefix = "Version:"
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)), true
}

// copyFile copies src to dst verbatim, preserving no special metadata
// beyond permission bits (ISOGeneration's staging copies run as root
// against a disposable ISO staging tree, so ownership is irrelevant).
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// copyFirstMatch copies the first file in dir matching pattern to dst;
// used to pick up a versioned artifact (vmlinuz-<version>) without the
// caller needing to know the exact version string.
func copyFirstMatch(dir, pattern, dst string) error {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no file under %s matches %s", dir, pattern)
	}
	return copyFile(matches[0], dst)
}

// copyTree recursively copies src into dst, creating directories as
// needed. Used to stage BootloaderSetup's EFI tree into the ISO image.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

// writeChrootFile writes content to relPath under the chroot's root
// directory, creating parent directories as needed.
func writeChrootFile(dir *Deps, relPath string, content []byte, perm os.FileMode) error {
	full := filepath.Join(dir.Chroot.Dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, content, perm); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}
	return nil
}

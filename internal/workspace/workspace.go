// Package workspace implements the Workspace Manager (spec.md §4.2):
// it allocates the root working directory tree a build owns exclusively
// for its duration, and guarantees every kernel-visible mount under
// chroot/ is torn down before the workspace is considered released.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/SWORDIntel/Z-FORGE/internal/mountutil"
	"github.com/SWORDIntel/Z-FORGE/internal/retry"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// dirtyMarker is the sentinel file written when a release leaves
// mounts behind after exhausting retries; its presence refuses any
// further Acquire against the same root until an operator intervenes.
const dirtyMarker = ".zforge-dirty"

// Workspace is the directory tree a single build invocation owns.
type Workspace struct {
	Root      string
	ChrootDir string
	CacheDir  string
	ISODir    string
	EFIDir    string
	LiveDir   string
	StateDir  string

	entry *log.Entry
	mu    sync.Mutex
}

// Acquire creates (or reattaches to, on resume) the workspace rooted at
// root, refusing if a prior release left the workspace dirty.
func Acquire(root string, entry *log.Entry) (*Workspace, error) {
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}

	w := &Workspace{
		Root:      root,
		ChrootDir: filepath.Join(root, "chroot"),
		CacheDir:  filepath.Join(root, "cache"),
		ISODir:    filepath.Join(root, "iso"),
		EFIDir:    filepath.Join(root, "efi"),
		LiveDir:   filepath.Join(root, "live"),
		StateDir:  filepath.Join(root, "state"),
		entry:     entry.WithField("workspace", root),
	}

	if _, err := os.Stat(w.dirtyMarkerPath()); err == nil {
		return nil, fmt.Errorf("%w: %s was left dirty by a previous build; clean it before reuse", zerrors.ErrWorkspaceDirty, root)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking dirty marker in %s", root)
	}

	for _, dir := range []string{w.ChrootDir, w.CacheDir, w.ISODir, w.EFIDir, w.LiveDir, w.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating workspace directory %s", dir)
		}
	}

	w.entry.Debug("workspace acquired")
	return w, nil
}

// Release tears down every mount under ChrootDir before returning.
// Entries that fail a plain unmount are retried with lazy (MNT_DETACH)
// unmounts under a retry.Backoff of 3 attempts (2s base, 10s cap); if mounts
// survive that, the workspace is marked dirty and Release returns
// ErrMountLeak so the caller can surface it without corrupting
// checkpoint state. Release always runs its retries to completion —
// it does not take a context, since abandoning a teardown partway
// through is exactly the mount leak it exists to prevent.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	leaked, err := w.teardownMounts()
	if err != nil {
		return err
	}
	if len(leaked) > 0 {
		if markErr := w.markDirty(leaked); markErr != nil {
			w.entry.WithError(markErr).Error("failed writing dirty marker")
		}
		return fmt.Errorf("%w: mounts still present under %s after retries: %v", zerrors.ErrMountLeak, w.ChrootDir, leaked)
	}

	w.entry.Debug("workspace released cleanly")
	return nil
}

func (w *Workspace) teardownMounts() ([]string, error) {
	var lastLeaked []string

	attempt := func() error {
		points, err := mountutil.MountsUnder(w.ChrootDir)
		if err != nil {
			return err
		}
		if len(points) == 0 {
			lastLeaked = nil
			return nil
		}

		var remaining []string
		for _, p := range points {
			if err := mountutil.Unmount(p, false); err != nil && !mountutil.IsNotMounted(err) {
				if err := mountutil.Unmount(p, true); err != nil && !mountutil.IsNotMounted(err) {
					remaining = append(remaining, p)
					continue
				}
			}
		}
		lastLeaked = remaining
		if len(remaining) > 0 {
			return fmt.Errorf("%d mount(s) still present", len(remaining))
		}
		return nil
	}

	b := retry.Backoff{Attempts: 3, Base: 2 * time.Second, Cap: 10 * time.Second}
	_ = b.Do(context.Background(), w.entry, attempt)
	return lastLeaked, nil
}

func (w *Workspace) markDirty(leaked []string) error {
	content := fmt.Sprintf("dirty at %s: leaked mounts: %v\n", time.Now().UTC().Format(time.RFC3339), leaked)
	return os.WriteFile(w.dirtyMarkerPath(), []byte(content), 0o644)
}

func (w *Workspace) dirtyMarkerPath() string {
	return filepath.Join(w.Root, dirtyMarker)
}

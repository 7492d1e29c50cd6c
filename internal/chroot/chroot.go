// Package chroot implements the Chroot Executor (spec.md §4.3): a
// single-writer scoped session that bind-mounts the kernel filesystems
// (and, when caching is enabled, the package cache) into a target
// directory, runs commands against it via coreutils chroot(1), and
// guarantees reverse-order teardown on every exit path. The
// Enter/restore-closure shape generalizes mantle/system/ns.Enter's
// "lock a scarce process-wide resource, return an undo closure"
// pattern from network namespaces to bind mounts.
package chroot

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/SWORDIntel/Z-FORGE/internal/mountutil"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// bindTargets is the fixed, ordered bind-mount contract spec.md §4.3
// requires: added in this order on Enter, torn down in reverse on
// Close.
var bindTargets = []string{"dev", "dev/pts", "proc", "sys", "run"}

// Executor owns the single chroot directory a build operates against
// and serializes all sessions against it process-wide.
type Executor struct {
	Dir            string
	CacheDir       string
	CachingEnabled bool

	entry *log.Entry
	mu    sync.Mutex
}

// NewExecutor constructs an Executor for dir, optionally bind-mounting
// cacheDir at dir/var/cache/apt/archives when cachingEnabled.
func NewExecutor(dir, cacheDir string, cachingEnabled bool, entry *log.Entry) *Executor {
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	return &Executor{Dir: dir, CacheDir: cacheDir, CachingEnabled: cachingEnabled, entry: entry.WithField("chroot", dir)}
}

// Session is a scoped, active chroot acquisition. Callers must Close it
// on every exit path.
type Session struct {
	exec    *Executor
	mounted []string
	entry   *log.Entry
}

// Enter bind-mounts the kernel filesystems (and cache, if enabled) and
// returns a Session. Nesting a second Enter while one is active returns
// ErrChrootBusy rather than blocking, so pipeline bugs that double-enter
// surface immediately instead of deadlocking.
func (e *Executor) Enter() (*Session, error) {
	if !e.mu.TryLock() {
		return nil, zerrors.ErrChrootBusy
	}

	s := &Session{exec: e, entry: e.entry}

	for _, rel := range bindTargets {
		target := filepath.Join(e.Dir, rel)
		source := filepath.Join("/", rel)
		if err := mountutil.RecursiveBind(source, target); err != nil {
			s.unwind()
			e.mu.Unlock()
			return nil, fmt.Errorf("entering chroot %s: bind %s: %w", e.Dir, rel, err)
		}
		s.mounted = append(s.mounted, target)
	}

	if e.CachingEnabled && e.CacheDir != "" {
		target := filepath.Join(e.Dir, "var/cache/apt/archives")
		if err := mountutil.Bind(e.CacheDir, target); err != nil {
			s.unwind()
			e.mu.Unlock()
			return nil, fmt.Errorf("entering chroot %s: bind package cache: %w", e.Dir, err)
		}
		s.mounted = append(s.mounted, target)
	}

	e.entry.Debug("chroot session entered")
	return s, nil
}

// Run executes argv inside the chroot via coreutils chroot(1), the
// same indirection clr-installer's chroot-backed install steps use
// rather than calling unix.Chroot directly, since chroot(1) drops
// privileges back to the parent process on exit regardless of how the
// child behaves.
func (s *Session) Run(ctx context.Context, argv []string, env []string, opts procexec.Options) (procexec.Result, error) {
	full := append([]string{"/usr/sbin/chroot", s.exec.Dir}, argv...)
	o := opts
	o.Env = env
	if o.Entry == nil {
		o.Entry = s.entry
	}
	return procexec.Run(ctx, full, o)
}

// RunScript runs an in-memory bash fragment inside the chroot.
func (s *Session) RunScript(ctx context.Context, name, src string, opts procexec.Options) (procexec.Result, error) {
	full := fmt.Sprintf("exec /usr/sbin/chroot %s /bin/bash -c 'set -euo pipefail\n%s'", s.exec.Dir, src)
	o := opts
	if o.Entry == nil {
		o.Entry = s.entry
	}
	return procexec.RunScript(ctx, o, name, full)
}

// Close tears down the session's mounts in reverse order, tolerating
// already-unmounted targets, and releases the executor for the next
// Enter. It always attempts every unmount even if an earlier one
// fails, returning the first error encountered.
func (s *Session) Close() error {
	defer s.exec.mu.Unlock()
	err := s.unwind()
	s.exec.entry.Debug("chroot session closed")
	return err
}

func (s *Session) unwind() error {
	var first error
	for i := len(s.mounted) - 1; i >= 0; i-- {
		target := s.mounted[i]
		if err := mountutil.Unmount(target, false); err != nil && !mountutil.IsNotMounted(err) {
			if err := mountutil.Unmount(target, true); err != nil && !mountutil.IsNotMounted(err) {
				s.entry.WithError(err).WithField("target", target).Warn("failed to unmount chroot bind mount")
				if first == nil {
					first = err
				}
				continue
			}
		}
	}
	s.mounted = nil
	return first
}

// Package mountutil wraps mount(2)/umount(2) the way mantle/system's
// mount_linux.go wraps mount(8): bind mounts, lazy unmounts, and the
// propagation-flag vocabulary the chroot executor and workspace manager
// need, built on golang.org/x/sys/unix instead of the raw syscall
// package for the pinned constant set.
package mountutil

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// MountError records a mount operation failure, mirroring os.PathError's
// shape the way mantle/system.MountError does.
type MountError struct {
	Op     string
	Source string
	Target string
	Err    error
}

func (e *MountError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s %s failed: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s %s to %s failed: %v", e.Op, e.Source, e.Target, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

// Bind bind-mounts source onto target (read-write).
func Bind(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return &MountError{Op: "bind", Source: source, Target: target, Err: err}
	}
	return nil
}

// RecursiveBind bind-mounts an entire tree under source onto target.
func RecursiveBind(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return &MountError{Op: "rbind", Source: source, Target: target, Err: err}
	}
	return nil
}

// Unmount detaches the filesystem mounted at target. When lazy is true
// it requests MNT_DETACH, which succeeds even while the mount point is
// busy, deferring actual detachment until the last reference drops.
func Unmount(target string, lazy bool) error {
	var flags int
	if lazy {
		flags = unix.MNT_DETACH
	}
	if err := unix.Unmount(target, flags); err != nil {
		return &MountError{Op: "unmount", Target: target, Err: err}
	}
	return nil
}

// IsNotMounted reports whether err indicates the target was already
// unmounted (EINVAL from unmount(2) on a non-mountpoint), which the
// workspace manager's release path tolerates rather than treating as a
// mount leak.
func IsNotMounted(err error) bool {
	var merr *MountError
	if e, ok := err.(*MountError); ok {
		merr = e
	} else {
		return false
	}
	return merr.Err == unix.EINVAL
}

// MountsUnder returns every mount point under root (root itself
// included, if mounted), deepest first, by scanning
// /proc/self/mountinfo. The workspace manager's release path walks
// this list to find leaked mounts after a chroot session believes it
// tore everything down.
func MountsUnder(root string) ([]string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return nil, fmt.Errorf("opening /proc/self/mountinfo: %w", err)
	}
	defer f.Close()

	prefix := strings.TrimRight(root, "/")
	var points []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		mountPoint := fields[4]
		if mountPoint == prefix || strings.HasPrefix(mountPoint, prefix+"/") {
			points = append(points, mountPoint)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning /proc/self/mountinfo: %w", err)
	}

	sort.Slice(points, func(i, j int) bool {
		return len(points[i]) > len(points[j])
	})
	return points, nil
}

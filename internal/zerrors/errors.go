// Package zerrors defines the sentinel error kinds shared across the
// Z-FORGE build pipeline. Call sites wrap one of these with fmt.Errorf's
// %w verb so that callers can classify a failure with errors.Is without
// string matching, the same habit gangplank's internal/ocp package uses
// for ErrNotWorkPod and ErrNotInCluster.
package zerrors

import "errors"

var (
	// ErrValidation means the build specification is malformed or
	// contains an unrecognized enumerated value.
	ErrValidation = errors.New("validation error")

	// ErrUnknownOption means a key under an enumerated specification
	// section was not recognized.
	ErrUnknownOption = errors.New("unknown option")

	// ErrMissingRequired means a required host tool, asset, or
	// installer module source is absent.
	ErrMissingRequired = errors.New("missing required dependency")

	// ErrNetwork means a network-dependent operation failed after
	// exhausting its retry budget.
	ErrNetwork = errors.New("network error")

	// ErrPackageInstall means apt/dpkg failed inside the chroot.
	ErrPackageInstall = errors.New("package install failed")

	// ErrKernelZFSMismatch means the ZFS module build or load failed
	// against the installed kernel headers.
	ErrKernelZFSMismatch = errors.New("kernel/zfs mismatch")

	// ErrInitramfsRegen means dracut failed to regenerate the
	// initramfs.
	ErrInitramfsRegen = errors.New("initramfs regeneration failed")

	// ErrIsoAssembly means xorriso or mksquashfs failed while
	// assembling the ISO image.
	ErrIsoAssembly = errors.New("iso assembly failed")

	// ErrChrootBusy means a second Enter was attempted while a
	// ChrootSession was already active.
	ErrChrootBusy = errors.New("chroot is busy")

	// ErrMountLeak means an unmount failed even after retries.
	ErrMountLeak = errors.New("mount leak")

	// ErrStalled means a subprocess produced no output past the idle
	// threshold and was cancelled.
	ErrStalled = errors.New("subprocess stalled")

	// ErrInstallerAssetMissing means a required installer module's
	// source tree is absent from the repository.
	ErrInstallerAssetMissing = errors.New("installer asset missing")

	// ErrCancelled means the caller requested cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrWorkspaceDirty means the workspace refused reuse after a
	// prior mount-teardown failure.
	ErrWorkspaceDirty = errors.New("workspace is dirty")
)

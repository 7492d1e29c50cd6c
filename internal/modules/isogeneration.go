package modules

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// isoResumeData records the assembled ISO's path so a resumed run (or
// inspect-checkpoint) can report it without re-deriving the name.
type isoResumeData struct {
	ISOPath string `json:"iso_path"`
}

// ISOGeneration squashes the rootfs, assembles a hybrid BIOS/EFI ISO,
// and writes SHA256/MD5 sidecars (spec.md §4.5.11).
type ISOGeneration struct{ *Deps }

func (m *ISOGeneration) Name() string { return "ISOGeneration" }

func (m *ISOGeneration) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	entry := m.entry()

	if err := m.checkFreeSpace(); err != nil {
		return nil, err
	}

	// The chroot is the authoritative rootfs; sync it into live/ (the
	// squashfs source tree) so later mksquashfs calls never touch the
	// chroot's live bind mounts.
	if _, err := procexec.Run(ctx, []string{"rsync", "-aHAX", "--delete",
		"--exclude=/proc/*", "--exclude=/sys/*", "--exclude=/dev/*", "--exclude=/run/*",
		m.Chroot.Dir + "/", m.Workspace.LiveDir + "/"}, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("%w: syncing chroot into live rootfs: %v", zerrors.ErrIsoAssembly, err)
	}

	squashPath := filepath.Join(m.Workspace.ISODir, "live", "filesystem.squashfs")
	if err := os.MkdirAll(filepath.Dir(squashPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating iso live dir: %v", zerrors.ErrIsoAssembly, err)
	}

	squashArgv := append([]string{"mksquashfs", m.Workspace.LiveDir, squashPath, "-noappend"},
		mksquashfsCompArgs(plan.Zfs.Compression)...)
	if _, err := procexec.Run(ctx, squashArgv, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("%w: mksquashfs: %v", zerrors.ErrIsoAssembly, err)
	}

	if err := m.stageBootAssets(ctx); err != nil {
		return nil, err
	}

	isoPath := filepath.Join(m.Workspace.Root, "zforge.iso")
	xorrisoArgv := []string{
		"xorriso", "-as", "mkisofs",
		"-iso-level", "3",
		"-full-iso9660-filenames",
		"-volid", "ZFORGE",
		"-eltorito-boot", "isolinux/isolinux.bin",
		"-eltorito-catalog", "isolinux/boot.cat",
		"-no-emul-boot", "-boot-load-size", "4", "-boot-info-table",
		"-eltorito-alt-boot",
		"-e", "EFI/efiboot.img",
		"-no-emul-boot",
		"-isohybrid-gpt-basdat",
		"-output", isoPath,
		m.Workspace.ISODir,
	}
	if _, err := procexec.Run(ctx, xorrisoArgv, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("%w: xorriso: %v", zerrors.ErrIsoAssembly, err)
	}

	if err := writeChecksums(isoPath); err != nil {
		return nil, fmt.Errorf("%w: writing iso checksums: %v", zerrors.ErrIsoAssembly, err)
	}

	entry.WithField("iso", isoPath).Info("iso assembled")
	return json.Marshal(isoResumeData{ISOPath: isoPath})
}

// checkFreeSpace refuses to start assembly when the workspace
// filesystem can't hold roughly two more copies of the chroot (the
// rsync'd live tree plus the squashfs and ISO), surfacing the shortage
// before hours of mksquashfs work instead of partway through it.
func (m *ISOGeneration) checkFreeSpace() error {
	var used int64
	err := filepath.Walk(m.Chroot.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries under a live bind mount are not ours to count
		}
		if !info.IsDir() {
			used += info.Size()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: sizing chroot: %v", zerrors.ErrIsoAssembly, err)
	}

	var st unix.Statfs_t
	if err := unix.Statfs(m.Workspace.Root, &st); err != nil {
		return fmt.Errorf("%w: statfs %s: %v", zerrors.ErrIsoAssembly, m.Workspace.Root, err)
	}
	free := int64(st.Bavail) * st.Bsize
	if need := used * 2; free < need {
		return fmt.Errorf("%w: %s has %d bytes free, need about %d for the live tree and ISO", zerrors.ErrIsoAssembly, m.Workspace.Root, free, need)
	}
	return nil
}

// stageBootAssets copies the kernel/initramfs from the chroot and the
// EFI staging tree built by BootloaderSetup into the ISO staging
// layout spec.md §6 fixes: /boot/{vmlinuz,initramfs.img},
// /live/filesystem.squashfs, /EFI/BOOT/BOOTX64.EFI, optionally
// /EFI/OC/, /isolinux/.
func (m *ISOGeneration) stageBootAssets(ctx context.Context) error {
	bootDir := filepath.Join(m.Workspace.ISODir, "boot")
	if err := os.MkdirAll(bootDir, 0o755); err != nil {
		return err
	}
	if err := copyFirstMatch(filepath.Join(m.Chroot.Dir, "boot"), "vmlinuz-*", filepath.Join(bootDir, "vmlinuz")); err != nil {
		return err
	}
	if err := copyFile(filepath.Join(m.Chroot.Dir, "boot", "initramfs.img"), filepath.Join(bootDir, "initramfs.img")); err != nil {
		return err
	}

	// EFIDir already holds the EFI/ subtree (EFI/BOOT, optionally
	// EFI/OC), so it is copied onto the ISO root, not under a second
	// EFI/ level.
	if err := copyTree(m.Workspace.EFIDir, m.Workspace.ISODir); err != nil {
		return err
	}

	if err := m.buildEFIBootImage(ctx); err != nil {
		return err
	}

	return m.stageISOLinux()
}

// buildEFIBootImage packs the staged EFI tree into the FAT-formatted
// El Torito alternate boot image xorriso references as EFI/efiboot.img
// (spec.md §4.5.11's "EFI System Partition image").
func (m *ISOGeneration) buildEFIBootImage(ctx context.Context) error {
	entry := m.entry()

	var sizeKiB int64
	err := filepath.Walk(m.Workspace.EFIDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			sizeKiB += (info.Size() + 1023) / 1024
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: sizing EFI staging tree: %v", zerrors.ErrIsoAssembly, err)
	}
	// FAT overhead plus headroom; mkfs.vfat refuses very small images.
	sizeKiB += 4096

	imgPath := filepath.Join(m.Workspace.ISODir, "EFI", "efiboot.img")
	img, err := os.Create(imgPath)
	if err != nil {
		return fmt.Errorf("%w: creating efiboot.img: %v", zerrors.ErrIsoAssembly, err)
	}
	if err := img.Truncate(sizeKiB * 1024); err != nil {
		img.Close()
		return fmt.Errorf("%w: sizing efiboot.img: %v", zerrors.ErrIsoAssembly, err)
	}
	if err := img.Close(); err != nil {
		return fmt.Errorf("%w: closing efiboot.img: %v", zerrors.ErrIsoAssembly, err)
	}

	if _, err := procexec.Run(ctx, []string{"mkfs.vfat", "-F", "12", "-n", "ZFORGEEFI", imgPath}, procexec.Options{Entry: entry}); err != nil {
		return fmt.Errorf("%w: mkfs.vfat efiboot.img: %v", zerrors.ErrIsoAssembly, err)
	}
	if _, err := procexec.Run(ctx, []string{"mcopy", "-i", imgPath, "-s", filepath.Join(m.Workspace.EFIDir, "EFI"), "::"}, procexec.Options{Entry: entry}); err != nil {
		return fmt.Errorf("%w: mcopy EFI tree into efiboot.img: %v", zerrors.ErrIsoAssembly, err)
	}
	return nil
}

// isolinuxCfg is the BIOS boot menu; the copy-to-RAM entry adds the
// zforge.toram token the dracut hook from DracutConfig reacts to.
const isolinuxCfg = `DEFAULT live
PROMPT 1
TIMEOUT 50

LABEL live
  MENU LABEL Z-FORGE installer (live)
  KERNEL /boot/vmlinuz
  APPEND initrd=/boot/initramfs.img boot=live
LABEL toram
  MENU LABEL Z-FORGE installer (copy to RAM)
  KERNEL /boot/vmlinuz
  APPEND initrd=/boot/initramfs.img boot=live zforge.toram=yes
`

// stageISOLinux copies the BIOS El Torito stage, preferring the copy
// LiveEnvironment installed in the chroot and falling back to the
// build host's syslinux files when the chroot has none.
func (m *ISOGeneration) stageISOLinux() error {
	isolinuxDir := filepath.Join(m.Workspace.ISODir, "isolinux")
	if err := os.MkdirAll(isolinuxDir, 0o755); err != nil {
		return err
	}

	assets := map[string][]string{
		"isolinux.bin": {
			filepath.Join(m.Chroot.Dir, "usr/lib/ISOLINUX/isolinux.bin"),
			"/usr/lib/ISOLINUX/isolinux.bin",
		},
		"ldlinux.c32": {
			filepath.Join(m.Chroot.Dir, "usr/lib/syslinux/modules/bios/ldlinux.c32"),
			"/usr/lib/syslinux/modules/bios/ldlinux.c32",
		},
	}
	for name, candidates := range assets {
		if err := copyFirstExisting(candidates, filepath.Join(isolinuxDir, name)); err != nil {
			return fmt.Errorf("%w: staging %s: %v", zerrors.ErrIsoAssembly, name, err)
		}
	}

	return os.WriteFile(filepath.Join(isolinuxDir, "isolinux.cfg"), []byte(isolinuxCfg), 0o644)
}

// copyFirstExisting copies the first candidate path that exists to dst.
func copyFirstExisting(candidates []string, dst string) error {
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return copyFile(c, dst)
		}
	}
	return fmt.Errorf("none of %v present", candidates)
}

// mksquashfsCompArgs maps the plan's compression choice to mksquashfs
// flags. "off" disables every compressible section rather than
// substituting a real compressor; level-suffixed values (zstd-19)
// keep only the algorithm, since mksquashfs levels use separate
// -Xcompression-level syntax with different ranges.
func mksquashfsCompArgs(compression string) []string {
	switch compression {
	case "":
		return []string{"-comp", "gzip"}
	case "off":
		return []string{"-noI", "-noD", "-noF", "-noX"}
	}
	for i, c := range compression {
		if c == '-' {
			return []string{"-comp", compression[:i]}
		}
	}
	return []string{"-comp", compression}
}

func writeChecksums(isoPath string) error {
	f, err := os.Open(isoPath)
	if err != nil {
		return err
	}
	defer f.Close()

	shaHash := sha256.New()
	md5Hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(shaHash, md5Hash), f); err != nil {
		return err
	}

	base := filepath.Base(isoPath)
	if err := os.WriteFile(isoPath+".sha256", []byte(fmt.Sprintf("%s  %s\n", hex.EncodeToString(shaHash.Sum(nil)), base)), 0o644); err != nil {
		return err
	}
	return os.WriteFile(isoPath+".md5", []byte(fmt.Sprintf("%s  %s\n", hex.EncodeToString(md5Hash.Sum(nil)), base)), 0o644)
}

package installer

import (
	"context"
	"fmt"

	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// BootloaderInstallSpec is the input to InstallBootloader: the mounted
// target root, the ESP device, the number of ZFSBootMenu EFI image
// copies to install, and — when two-stage boot is configured — the
// secondary device OpenCore installs onto and the primary device's
// chainload path (spec.md §4.7).
type BootloaderInstallSpec struct {
	TargetRoot     string
	ESPDevice      string
	ZBMImageCount  int
	TwoStageBoot   bool
	OpenCoreDevice string
	ChainloadPath  string
}

// InstallBootloader operates on the mounted target (spec.md §4.7): it
// ensures /boot/efi is a mounted vfat ESP, installs ZBMImageCount
// copies of the ZFSBootMenu EFI image, optionally installs OpenCore
// onto a secondary device with a config.plist chainloading the
// primary device's ZFSBootMenu image, and regenerates the initramfs
// inside the target via chroot.
func InstallBootloader(ctx context.Context, spec BootloaderInstallSpec, opts procexec.Options) error {
	if err := ensureESPMounted(ctx, spec, opts); err != nil {
		return err
	}

	for i := 0; i < max(spec.ZBMImageCount, 1); i++ {
		dest := fmt.Sprintf("%s/boot/efi/EFI/BOOT/BOOTX64-%d.EFI", spec.TargetRoot, i)
		if i == 0 {
			dest = spec.TargetRoot + "/boot/efi/EFI/BOOT/BOOTX64.EFI"
		}
		if _, err := procexec.Run(ctx, []string{"install", "-D", "-m", "0644",
			spec.TargetRoot + "/usr/share/zfsbootmenu/BOOTX64.EFI", dest}, opts); err != nil {
			return fmt.Errorf("installing zfsbootmenu image %d: %w", i, err)
		}
	}

	if spec.TwoStageBoot {
		if err := installOpenCore(ctx, spec, opts); err != nil {
			return err
		}
	}

	chrootArgv := []string{"chroot", spec.TargetRoot, "dracut", "--force", "--regenerate-all"}
	if _, err := procexec.Run(ctx, chrootArgv, opts); err != nil {
		return fmt.Errorf("%w: regenerating initramfs in target: %v", zerrors.ErrInitramfsRegen, err)
	}
	return nil
}

func ensureESPMounted(ctx context.Context, spec BootloaderInstallSpec, opts procexec.Options) error {
	res, err := procexec.Run(ctx, []string{"findmnt", "-n", "-o", "FSTYPE", spec.TargetRoot + "/boot/efi"}, opts)
	if err == nil && len(res.Tail) > 0 && lastTail(res.Tail) == "vfat" {
		return nil
	}
	if spec.ESPDevice == "" {
		return fmt.Errorf("%w: /boot/efi is not a mounted ESP and no esp device was provided", zerrors.ErrMissingRequired)
	}
	if _, err := procexec.Run(ctx, []string{"mount", "-t", "vfat", spec.ESPDevice, spec.TargetRoot + "/boot/efi"}, opts); err != nil {
		return fmt.Errorf("mounting ESP %s: %w", spec.ESPDevice, err)
	}
	return nil
}

func installOpenCore(ctx context.Context, spec BootloaderInstallSpec, opts procexec.Options) error {
	if spec.OpenCoreDevice == "" {
		return fmt.Errorf("%w: two-stage boot requested but no secondary device given for OpenCore", zerrors.ErrMissingRequired)
	}
	ocEspMount := "/mnt/zforge-oc-esp"
	if _, err := procexec.Run(ctx, []string{"mkdir", "-p", ocEspMount}, opts); err != nil {
		return fmt.Errorf("creating OpenCore ESP mountpoint: %w", err)
	}
	if _, err := procexec.Run(ctx, []string{"mount", "-t", "vfat", spec.OpenCoreDevice, ocEspMount}, opts); err != nil {
		return fmt.Errorf("mounting OpenCore device %s: %w", spec.OpenCoreDevice, err)
	}
	if _, err := procexec.Run(ctx, []string{"cp", "-r", spec.TargetRoot + "/usr/share/zforge/efi/EFI/OC", ocEspMount + "/EFI/OC"}, opts); err != nil {
		return fmt.Errorf("copying OpenCore tree: %w", err)
	}

	plist := fmt.Sprintf(openCorePlistTemplate, spec.ChainloadPath)
	if _, err := procexec.Run(ctx, []string{"sh", "-c", fmt.Sprintf("cat > %s/EFI/OC/config.plist <<'EOF'\n%s\nEOF\n", ocEspMount, plist)}, opts); err != nil {
		return fmt.Errorf("writing chainload config.plist: %w", err)
	}
	if _, err := procexec.Run(ctx, []string{"umount", ocEspMount}, opts); err != nil {
		return fmt.Errorf("unmounting OpenCore device: %w", err)
	}
	return nil
}

const openCorePlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
  <key>BootEntries</key>
  <array>
    <dict>
      <key>Name</key><string>ZFSBootMenu</string>
      <key>Path</key><string>%s\EFI\BOOT\BOOTX64.EFI</string>
      <key>Enabled</key><true/>
    </dict>
  </array>
</dict>
</plist>
`

func lastTail(tail []string) string {
	if len(tail) == 0 {
		return ""
	}
	return tail[len(tail)-1]
}

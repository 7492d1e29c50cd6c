package modules

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	log "github.com/sirupsen/logrus"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/chroot"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// dracutConfTemplate renders dracut.conf.d/zforge.conf, declaring ZFS
// module inclusion, compression, hostonly policy, and the binaries/
// files spec.md §4.5.5 requires explicitly bundled. Rendered with
// text/template rather than the teacher's html/template
// (gangplank/internal/spec/tmpl.go): this is a shell-syntax config
// file, and html/template's HTML-escaping would corrupt kernel
// cmdline tokens like "root=zfs:AUTO".
var dracutConfTemplate = template.Must(template.New("dracut.conf").Parse(
	`add_dracutmodules+=" zfs "
{{- if .ExtraDrivers}}
add_drivers+=" {{range .ExtraDrivers}}{{.}} {{end}}"
{{- end}}
compress="{{.Compression}}"
hostonly="{{.Hostonly}}"
install_items+=" /usr/sbin/zfs /usr/sbin/zpool /etc/hostid /etc/zfs/zpool.cache "
kernel_cmdline="{{.CommandLine}}"
`))

type dracutConfData struct {
	Compression  string
	Hostonly     string
	CommandLine  string
	ExtraDrivers []string
}

// copyToRAMHook is a dracut pre-pivot hook installed under
// 91zforge-toram, triggered by zforge.toram=yes or the bare toram
// token on the kernel command line (spec.md §4.5.5, §6). It runs
// after the live module has mounted the medium and assembled
// $NEWROOT, sizes a tmpfs against the SquashFS image plus a 256 MiB
// buffer capped at 75% of total memory, copies the image into it, and
// remounts $NEWROOT from the RAM-backed loop device so switch_root
// pivots into a root the boot medium no longer backs.
const copyToRAMHook = `#!/bin/sh
# installed by Z-FORGE's DracutConfig module
command -v getarg >/dev/null 2>&1 || . /lib/dracut-lib.sh

toram=0
if getargbool 0 zforge.toram || getarg toram; then
    toram=1
fi
[ "$toram" = "1" ] || exit 0

findiso=$(getarg findiso=)
[ -n "$findiso" ] || findiso=/live/filesystem.squashfs

# the live medium is mounted under /run/initramfs/live by pre-pivot
src="/run/initramfs/live${findiso}"
if [ ! -f "$src" ]; then
    warn "zforge-toram: squashfs source not found at $src"
    exit 0
fi

img_kb=$(du -k "$src" | cut -f1)
buffer_kb=$((256 * 1024))
need_kb=$((img_kb + buffer_kb))

mem_kb=$(awk '/MemTotal/ {print $2}' /proc/meminfo)
cap_kb=$((mem_kb * 75 / 100))

if [ "$need_kb" -ge "$cap_kb" ]; then
    warn "zforge-toram: image ($img_kb KiB) + buffer exceeds 75% of RAM ($mem_kb KiB), skipping copy-to-RAM"
    exit 0
fi

mkdir -p /run/zforge-toram
mount -t tmpfs -o size=${need_kb}k tmpfs /run/zforge-toram
cp "$src" /run/zforge-toram/filesystem.squashfs

loopdev=$(losetup -f --show /run/zforge-toram/filesystem.squashfs)
mkdir -p /run/zforge-toram/ro /run/zforge-toram/upper /run/zforge-toram/work
mount -o ro "$loopdev" /run/zforge-toram/ro

# replace the medium-backed root with the RAM-backed one before
# switch_root pivots into $NEWROOT
modprobe overlay 2>/dev/null || true
umount -l "$NEWROOT"
if ! mount -t overlay overlay -o lowerdir=/run/zforge-toram/ro,upperdir=/run/zforge-toram/upper,workdir=/run/zforge-toram/work "$NEWROOT"; then
    warn "zforge-toram: overlay mount failed, falling back to read-only RAM root"
    mount -o ro "$loopdev" "$NEWROOT"
fi

info "zforge-toram: root is RAM-backed via $loopdev, the boot medium may be removed"
`

const copyToRAMModuleSetup = `#!/bin/bash
check() { return 0; }
depends() { echo "dracut-squash bash"; }
install() {
    inst_hook pre-pivot 10 "$moddir/toram.sh"
    inst_multiple du awk cut losetup mount umount modprobe
}
`

// DracutConfig implements spec.md §4.5.5: removes any competing
// initramfs generator, installs dracut, writes its configuration
// (including the copy-to-RAM hook), ensures a host identifier exists,
// and regenerates the initramfs for the installed kernel.
type DracutConfig struct{ *Deps }

func (m *DracutConfig) Name() string { return "DracutConfig" }

func (m *DracutConfig) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	entry := m.entry()

	s, err := m.Chroot.Enter()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	// initramfs-tools is Debian's default generator; dracut conflicts
	// with it owning /boot/initrd.img-*.
	if _, err := s.Run(ctx, []string{"apt-get", "remove", "-y", "--purge", "initramfs-tools", "initramfs-tools-core"}, []string{"DEBIAN_FRONTEND=noninteractive"}, procexec.Options{Entry: entry}); err != nil {
		entry.WithError(err).Warn("removing initramfs-tools reported an error (likely already absent)")
	}

	if err := aptInstall(ctx, s, entry, "dracut-core", "dracut"); err != nil {
		return nil, err
	}

	var confBuf strings.Builder
	if err := dracutConfTemplate.Execute(&confBuf, dracutConfData{
		Compression:  plan.Dracut.Compression,
		Hostonly:     boolYesNo(plan.Dracut.Hostonly),
		CommandLine:  plan.Dracut.CommandLine,
		ExtraDrivers: plan.Dracut.ExtraDrivers,
	}); err != nil {
		return nil, fmt.Errorf("rendering dracut.conf: %w", err)
	}
	if err := writeChrootFile(m.Deps, "etc/dracut.conf.d/zforge.conf", []byte(confBuf.String()), 0o644); err != nil {
		return nil, err
	}

	if err := writeChrootFile(m.Deps, "usr/lib/dracut/modules.d/91zforge-toram/module-setup.sh", []byte(copyToRAMModuleSetup), 0o755); err != nil {
		return nil, err
	}
	if err := writeChrootFile(m.Deps, "usr/lib/dracut/modules.d/91zforge-toram/toram.sh", []byte(copyToRAMHook), 0o755); err != nil {
		return nil, err
	}

	if err := m.ensureHostID(ctx, s, entry); err != nil {
		return nil, err
	}

	kernelVersion, err := m.resolveKernelVersion(ctx, s, entry)
	if err != nil {
		return nil, err
	}

	initramfsPath := fmt.Sprintf("/boot/initramfs-%s.img", kernelVersion)
	if _, err := s.Run(ctx, []string{"dracut", "--force", initramfsPath, kernelVersion}, nil, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("%w: dracut: %v", zerrors.ErrInitramfsRegen, err)
	}

	// Conventional compatibility symlink, the name ISOGeneration and
	// the bootloader templates both expect.
	if _, err := s.Run(ctx, []string{"ln", "-sf", fmt.Sprintf("initramfs-%s.img", kernelVersion), "/boot/initramfs.img"}, nil, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("%w: linking initramfs.img: %v", zerrors.ErrInitramfsRegen, err)
	}

	entry.WithField("kernel_version", kernelVersion).Info("initramfs generated")
	return nil, nil
}

// resolveKernelVersion returns the newest installed module directory
// under /lib/modules, the kernel version dracut targets. DracutConfig
// does not share KernelAcquisition's resume payload (each module only
// persists its own), so it re-derives the version from the chroot's
// actual state rather than trusting an out-of-band value.
func (m *DracutConfig) resolveKernelVersion(ctx context.Context, s *chroot.Session, entry *log.Entry) (string, error) {
	res, err := s.RunScript(ctx, "resolve-kernel-version", `ls -1 /lib/modules | sort -V | tail -n1`, procexec.Options{Entry: entry})
	if err != nil || len(res.Tail) == 0 {
		return "", fmt.Errorf("%w: resolving installed kernel version for dracut: %v", zerrors.ErrInitramfsRegen, err)
	}
	version := lastLine(res.Tail)
	if version == "" {
		return "", fmt.Errorf("%w: no kernel modules directory found in chroot", zerrors.ErrInitramfsRegen)
	}
	return version, nil
}

func (m *DracutConfig) ensureHostID(ctx context.Context, s *chroot.Session, entry *log.Entry) error {
	res, err := s.Run(ctx, []string{"test", "-s", "/etc/hostid"}, nil, procexec.Options{Entry: entry})
	if err == nil && res.ExitCode == 0 {
		return nil
	}
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Errorf("generating host id: %w", err)
	}
	return writeChrootFile(m.Deps, "etc/hostid", buf[:], 0o644)
}

func boolYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

const liveUser = "zforge-live"

// autostartEntry is the XDG autostart descriptor that launches the
// installer wizard as soon as the live user's session starts.
const autostartEntry = `[Desktop Entry]
Type=Application
Name=Z-FORGE Installer
Exec=/usr/bin/calamares
X-GNOME-Autostart-enabled=true
NoDisplay=false
`

// LiveEnvironment configures the live user account, console autologin
// on tty1, installer autostart, and branding assets (spec.md §4.5.8).
// No display manager is installed or configured for autologin.
type LiveEnvironment struct{ *Deps }

func (m *LiveEnvironment) Name() string { return "LiveEnvironment" }

func (m *LiveEnvironment) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	entry := m.entry()

	s, err := m.Chroot.Enter()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	// live-boot drives the squashfs root at boot; isolinux supplies the
	// BIOS El Torito stage ISOGeneration copies out of the chroot.
	if err := aptInstall(ctx, s, entry, "live-boot", "isolinux", "syslinux-common"); err != nil {
		return nil, err
	}

	script := fmt.Sprintf(`if ! id -u %[1]s >/dev/null 2>&1; then
    useradd -m -s /bin/bash %[1]s
fi
echo "%[1]s ALL=(ALL) NOPASSWD: /usr/bin/calamares" > /etc/sudoers.d/zforge-installer
chmod 0440 /etc/sudoers.d/zforge-installer`, liveUser)
	if _, err := s.RunScript(ctx, "live-user-account", script, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("provisioning live user account: %w", err)
	}

	// Autologin is a getty@tty1 systemd drop-in rendered via
	// go-systemd/unit rather than hand-written unit syntax (SecurityHardening,
	// by contrast, writes its drop-ins as plain config text).
	autologinUnit := unit.Serialize([]*unit.UnitOption{
		unit.NewUnitOption("Service", "ExecStart", ""),
		unit.NewUnitOption("Service", "ExecStart", "/sbin/agetty --autologin "+liveUser+" --noclear %I $TERM"),
	})
	if err := writeReaderChrootFile(m.Deps, "etc/systemd/system/getty@tty1.service.d/autologin.conf", autologinUnit); err != nil {
		return nil, err
	}

	if err := writeChrootFile(m.Deps, fmt.Sprintf("home/%s/.config/autostart/zforge-installer.desktop", liveUser), []byte(autostartEntry), 0o644); err != nil {
		return nil, err
	}

	if err := m.stageBranding(); err != nil {
		return nil, err
	}

	if _, err := s.Run(ctx, []string{"systemctl", "enable", "getty@tty1.service"}, nil, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("%w: enabling autologin getty: %v", zerrors.ErrPackageInstall, err)
	}

	entry.Info("live environment configured")
	return nil, nil
}

func (m *LiveEnvironment) stageBranding() error {
	const motd = "Welcome to Z-FORGE — Proxmox VE on OpenZFS-on-root installer\n"
	return writeChrootFile(m.Deps, "etc/motd", []byte(motd), 0o644)
}

// writeReaderChrootFile adapts writeChrootFile for an io.Reader source
// (go-systemd/unit.Serialize returns one), matching the unit package's
// own io.Reader-producing API rather than buffering it by hand.
func writeReaderChrootFile(d *Deps, relPath string, r io.Reader) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading rendered unit for %s: %w", relPath, err)
	}
	return writeChrootFile(d, relPath, buf, 0o644)
}

package modules

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/chroot"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

const baselineSysctl = `# zforge baseline hardening (spec.md §4.5.10)
fs.suid_dumpable = 0
kernel.randomize_va_space = 2
net.ipv4.tcp_syncookies = 1
net.ipv4.conf.all.rp_filter = 1
net.ipv4.conf.all.accept_redirects = 0
net.ipv4.conf.all.send_redirects = 0
`

const baselineModprobeBlacklist = `# zforge baseline hardening: uncommon filesystem drivers
blacklist cramfs
blacklist freevxfs
blacklist jffs2
blacklist hfs
blacklist hfsplus
blacklist udf
`

const serverSSHDropIn = `# zforge server hardening
PermitRootLogin no
PasswordAuthentication no
ChallengeResponseAuthentication no
X11Forwarding no
MaxAuthTries 3
ClientAliveInterval 300
`

// SecurityHardening applies the build-time hardening profile the
// BuildPlan selects and ensures ZFS-encryption tooling is present
// (spec.md §4.5.10).
type SecurityHardening struct{ *Deps }

func (m *SecurityHardening) Name() string { return "SecurityHardening" }

func (m *SecurityHardening) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	entry := m.entry()
	profile := plan.SecurityProfile
	if profile == "" {
		profile = "none"
	}

	s, err := m.Chroot.Enter()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := aptInstall(ctx, s, entry, "zfs-initramfs", "cryptsetup-bin"); err != nil {
		return nil, err
	}

	switch profile {
	case "none":
		entry.Info("security hardening profile none: no hardening applied")
		return nil, nil
	case "baseline", "server":
		if err := m.applyBaseline(ctx, s, entry); err != nil {
			return nil, err
		}
		if profile == "server" {
			if err := m.applyServer(ctx, s, entry); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: security_hardening_profile: unknown profile %q", zerrors.ErrValidation, profile)
	}

	entry.WithField("profile", profile).Info("security hardening applied")
	return nil, nil
}

func (m *SecurityHardening) applyBaseline(ctx context.Context, s *chroot.Session, entry *log.Entry) error {
	if err := writeChrootFile(m.Deps, "etc/sysctl.d/99-zforge-hardening.conf", []byte(baselineSysctl), 0o644); err != nil {
		return err
	}
	if err := writeChrootFile(m.Deps, "etc/modprobe.d/zforge-blacklist.conf", []byte(baselineModprobeBlacklist), 0o644); err != nil {
		return err
	}
	if err := writeChrootFile(m.Deps, "etc/profile.d/zforge-umask.sh", []byte("umask 027\n"), 0o644); err != nil {
		return err
	}
	return nil
}

func (m *SecurityHardening) applyServer(ctx context.Context, s *chroot.Session, entry *log.Entry) error {
	if err := writeChrootFile(m.Deps, "etc/ssh/sshd_config.d/99-zforge-hardening.conf", []byte(serverSSHDropIn), 0o644); err != nil {
		return err
	}

	if err := aptInstall(ctx, s, entry, "ufw"); err != nil {
		return err
	}

	script := `ufw --force reset
ufw default deny incoming
ufw default allow outgoing
ufw allow OpenSSH
ufw --force enable`
	if _, err := s.RunScript(ctx, "ufw-default-deny", script, procexec.Options{Entry: entry}); err != nil {
		return fmt.Errorf("%w: configuring firewall default-deny: %v", zerrors.ErrPackageInstall, err)
	}
	return nil
}

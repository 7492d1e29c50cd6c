package modules

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/chroot"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/retry"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// defaultProxmoxPackages is installed when the BuildPlan leaves
// proxmox_config.packages empty, covering the same baseline the
// minimal-install flag narrows from.
var defaultProxmoxPackages = []string{"proxmox-ve", "postfix", "open-iscsi"}

const proxmoxRepoKeyURL = "https://enterprise.proxmox.com/debian/proxmox-release-%s.gpg"

// ProxmoxIntegration adds the Proxmox repository and key, installs the
// declared package set, and disables the subscription-required nag
// banner in the web UI assets (spec.md §4.5.6).
type ProxmoxIntegration struct{ *Deps }

func (m *ProxmoxIntegration) Name() string { return "ProxmoxIntegration" }

func (m *ProxmoxIntegration) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	entry := m.entry()

	release := plan.Builder.Release
	repoLine := fmt.Sprintf("deb [arch=amd64] http://download.proxmox.com/debian/pve %s pve-no-subscription\n", release)
	if err := writeChrootFile(m.Deps, "etc/apt/sources.list.d/pve-install-repo.list", []byte(repoLine), 0o644); err != nil {
		return nil, err
	}

	s, err := m.Chroot.Enter()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	keyURL := fmt.Sprintf(proxmoxRepoKeyURL, release)
	err = retry.Default.Do(ctx, entry, func() error {
		argv := []string{"wget", "-qO", "/etc/apt/trusted.gpg.d/proxmox-release.gpg", keyURL}
		if _, err := s.Run(ctx, argv, nil, procexec.Options{Entry: entry}); err != nil {
			return fmt.Errorf("%w: fetching proxmox repo key: %v", zerrors.ErrNetwork, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.Run(ctx, []string{"apt-get", "update"}, nil, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("%w: apt-get update after adding proxmox repo: %v", zerrors.ErrNetwork, err)
	}

	packages := plan.Proxmox.Packages
	if len(packages) == 0 {
		if plan.Proxmox.MinimalInstall {
			packages = []string{"pve-kernel-helper", "pve-manager", "pve-qemu-kvm", "qemu-server"}
		} else {
			packages = defaultProxmoxPackages
		}
	}
	if err := aptInstall(ctx, s, entry, packages...); err != nil {
		return nil, err
	}

	if err := m.disableSubscriptionBanner(ctx, s, entry); err != nil {
		return nil, err
	}

	entry.WithField("packages", packages).Info("proxmox integration complete")
	return nil, nil
}

// disableSubscriptionBanner patches the Proxmox web UI's "no valid
// subscription" dialog trigger out of proxmoxlib.js, the same sed
// patch the Proxmox community documents for no-subscription installs.
func (m *ProxmoxIntegration) disableSubscriptionBanner(ctx context.Context, s *chroot.Session, entry *log.Entry) error {
	script := `jsfile=/usr/share/javascript/proxmox-widget-toolkit/proxmoxlib.js
if [ -f "$jsfile" ]; then
    sed -Ei.bak "s/(Ext.Msg.show\(\{\s*title: gettext\('No valid sub)/void({ \/\/ \1/g" "$jsfile"
fi`
	if _, err := s.RunScript(ctx, "disable-pve-subscription-banner", script, procexec.Options{Entry: entry}); err != nil {
		return fmt.Errorf("%w: disabling subscription banner: %v", zerrors.ErrPackageInstall, err)
	}
	return nil
}

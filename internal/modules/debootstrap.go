package modules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/retry"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// seedPackages is the minimal set spec.md §4.5.2 requires beyond
// debootstrap's own minimal variant.
var seedPackages = []string{"ca-certificates", "gnupg", "locales"}

// Debootstrap populates chroot/ with the declared base release.
type Debootstrap struct{ *Deps }

func (m *Debootstrap) Name() string { return "Debootstrap" }

func (m *Debootstrap) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	entry := m.entry()

	err := retry.Default.Do(ctx, entry, func() error {
		argv := []string{"debootstrap", "--variant=minimal", plan.Builder.Release, m.Chroot.Dir}
		_, runErr := procexec.Run(ctx, argv, procexec.Options{Entry: entry})
		if runErr != nil {
			return fmt.Errorf("%w: debootstrap: %v", zerrors.ErrNetwork, runErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sourcesList := fmt.Sprintf("deb http://deb.debian.org/debian %s main contrib non-free-firmware\n", plan.Builder.Release)
	if err := writeChrootFile(m.Deps, "etc/apt/sources.list", []byte(sourcesList), 0o644); err != nil {
		return nil, err
	}

	if plan.Builder.CachePackages {
		proxyConf := "Acquire::http { Proxy \"http://127.0.0.1:3142\"; };\n"
		if err := writeChrootFile(m.Deps, "etc/apt/apt.conf.d/02zforge-proxy", []byte(proxyConf), 0o644); err != nil {
			return nil, err
		}
	}

	s, err := m.Chroot.Enter()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if _, err := s.Run(ctx, []string{"apt-get", "update"}, nil, procexec.Options{Entry: entry}); err != nil {
		return nil, fmt.Errorf("%w: apt-get update: %v", zerrors.ErrNetwork, err)
	}

	if err := aptInstall(ctx, s, entry, seedPackages...); err != nil {
		return nil, err
	}

	entry.WithField("release", plan.Builder.Release).Info("base system populated")
	return nil, nil
}

package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/modules/calamaresassets"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// installerModuleRoot is the conventional Calamares custom-module
// directory under the target/live rootfs.
const installerModuleRoot = "usr/share/calamares/modules"

// settingsConfTemplate composes the two-phase installer sequence
// spec.md §4.5.9 freezes: a show sequence presenting view modules and
// an exec sequence running job modules, telemetryjob always last.
var settingsConfTemplate = template.Must(template.New("settings.conf").Parse(
	`# generated by Z-FORGE's CalamaresIntegration module
modules-search: [ local ]
instances: []
sequence:
  - show:
{{- range .Show}}
    - {{.}}
{{- end}}
  - exec:
{{- range .Exec}}
    - {{.}}
{{- end}}
`))

// showSequence and execSequence are spec.md §4.5.9's frozen phases.
// zfsrootselect is view-only: its pool-creation work runs as the
// emergent job its module.desc declares, queued by the view at
// confirmation time, so it never appears as an exec step of its own.
var showSequence = []string{"welcome", "locale", "keyboard", "telemetryconsent", "network", "partition", "zfsrootselect", "users", "summary"}
var execSequence = []string{"unpack", "fstab", "users", "networkcfg", "bootloader", "zfsbootloader", "proxmoxconfig", "securityhardening", "zforgefinalize", "telemetryjob"}

// CalamaresIntegration installs the installer framework's custom
// module tree into the live rootfs and composes the installer
// sequence (spec.md §4.5.9). It fails with ErrInstallerAssetMissing if
// any required module's embedded source is absent.
type CalamaresIntegration struct{ *Deps }

func (m *CalamaresIntegration) Name() string { return "CalamaresIntegration" }

func (m *CalamaresIntegration) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	entry := m.entry()

	s, err := m.Chroot.Enter()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := aptInstall(ctx, s, entry, "calamares", "calamares-settings-debian"); err != nil {
		return nil, err
	}

	for _, name := range calamaresassets.RequiredModules {
		if _, err := fs.Stat(calamaresassets.FS, name); err != nil {
			return nil, fmt.Errorf("%w: required installer module %q not found under calamaresassets", zerrors.ErrInstallerAssetMissing, name)
		}
		if err := copyEmbeddedModule(m.Deps, name); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := settingsConfTemplate.Execute(&buf, struct{ Show, Exec []string }{showSequence, execSequence}); err != nil {
		return nil, fmt.Errorf("rendering calamares settings.conf: %w", err)
	}
	if err := writeChrootFile(m.Deps, "etc/calamares/settings.conf", buf.Bytes(), 0o644); err != nil {
		return nil, err
	}

	entry.WithField("modules", calamaresassets.RequiredModules).Info("installer modules staged")
	return nil, nil
}

// copyEmbeddedModule copies one module's embedded source tree into
// the chroot's Calamares module directory, preserving the executable
// bit on shell scripts.
func copyEmbeddedModule(d *Deps, name string) error {
	return fs.WalkDir(calamaresassets.FS, name, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		content, err := fs.ReadFile(calamaresassets.FS, path)
		if err != nil {
			return fmt.Errorf("reading embedded asset %s: %w", path, err)
		}
		perm := os.FileMode(0o644)
		if filepath.Ext(path) == ".sh" {
			perm = 0o755
		}
		dest := filepath.Join(installerModuleRoot, path)
		return writeChrootFile(d, dest, content, perm)
	})
}

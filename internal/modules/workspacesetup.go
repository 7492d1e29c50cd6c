package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// requiredHostTools is spec.md §4.5.1's prerequisite binary list.
var requiredHostTools = []string{"debootstrap", "xorriso", "mksquashfs", "mkfs.vfat", "mcopy", "rsync"}

// WorkspaceSetup verifies host prerequisites and ensures workspace
// subpaths exist. It is idempotent: re-running it after a resume is a
// no-op beyond re-checking the same prerequisites.
type WorkspaceSetup struct{ *Deps }

func (m *WorkspaceSetup) Name() string { return "WorkspaceSetup" }

func (m *WorkspaceSetup) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	if os.Geteuid() != 0 {
		return nil, fmt.Errorf("%w: must run as root to bind-mount and chroot", zerrors.ErrMissingRequired)
	}

	var missing []string
	for _, tool := range requiredHostTools {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing host tools: %v", zerrors.ErrMissingRequired, missing)
	}

	for _, dir := range []string{m.Workspace.ChrootDir, m.Workspace.CacheDir, m.Workspace.ISODir, m.Workspace.EFIDir, m.Workspace.LiveDir, m.Workspace.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("preparing workspace directory %s: %w", dir, err)
		}
	}

	m.entry().Info("host prerequisites verified, workspace subpaths ready")
	return nil, nil
}

package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// kernelResumeData is KernelAcquisition's resume payload: the installed
// kernel package version, recorded in this module's own checkpoint.
// Other modules do not read it; DracutConfig derives the kernel version
// from the chroot's /lib/modules.
type kernelResumeData struct {
	Version string `json:"version"`
}

// KernelAcquisition selects and installs the kernel, headers, and
// firmware per the BuildPlan's kernel_selector.
type KernelAcquisition struct{ *Deps }

func (m *KernelAcquisition) Name() string { return "KernelAcquisition" }

func (m *KernelAcquisition) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	entry := m.entry()

	s, err := m.Chroot.Enter()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	kernelPkg := "linux-image-amd64"
	if plan.Builder.KernelSelector != "" && plan.Builder.KernelSelector != "latest" {
		kernelPkg = "linux-image-" + plan.Builder.KernelSelector
	}

	if err := aptInstall(ctx, s, entry, kernelPkg, "linux-headers-"+strings.TrimPrefix(kernelPkg, "linux-image-"), "firmware-linux"); err != nil {
		return nil, err
	}

	res, err := s.Run(ctx, []string{"dpkg-query", "-W", "-f=${Version}\n", kernelPkg}, nil, procexec.Options{Entry: entry})
	if err != nil || len(res.Tail) == 0 {
		return nil, fmt.Errorf("%w: resolving installed kernel version: %v", zerrors.ErrKernelZFSMismatch, err)
	}
	version := strings.TrimSpace(res.Tail[len(res.Tail)-1])

	entry.WithField("kernel_version", version).Info("kernel acquired")
	return json.Marshal(kernelResumeData{Version: version})
}

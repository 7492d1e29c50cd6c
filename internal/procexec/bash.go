package procexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// StrictMode is prefixed onto every in-memory script, matching
// internal/pkg/bashexec's bash-strict-mode convention
// (http://redsymbol.net/articles/unofficial-bash-strict-mode/).
const StrictMode = "set -euo pipefail"

// RunScript executes an in-memory bash fragment inside dir (typically
// a chroot path when invoked through nsenter/chroot wrapping upstream),
// the way internal/pkg/bashexec.NewBashRunner pipes a named script to
// bash via /proc/self/fd/3 rather than -c, avoiding argv length limits.
func RunScript(ctx context.Context, opts Options, name, src string) (Result, error) {
	f, err := os.CreateTemp("", "zforge-script-")
	if err != nil {
		return Result{}, fmt.Errorf("creating script tempfile: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := io.Copy(f, strings.NewReader(src)); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("writing script tempfile: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return Result{}, err
	}

	bashCmd := fmt.Sprintf("%s\n. /proc/self/fd/3\n", StrictMode)
	argv := []string{"/bin/bash", "-c", bashCmd, name}

	o := opts
	o.Stdin = nil
	o.ExtraFiles = append([]*os.File{f}, opts.ExtraFiles...)
	res, err := Run(ctx, argv, o)
	f.Close()
	return res, err
}

package installer

import (
	"context"
	"regexp"
	"strings"

	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
)

// ImportablePool is one pool zfspooldetect found available to import
// or already imported on the live medium.
type ImportablePool struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

var poolHeaderPattern = regexp.MustCompile(`^\s*pool:\s*(\S+)`)
var poolStatePattern = regexp.MustCompile(`^\s*state:\s*(\S+)`)

// DetectImportablePools runs `zpool import` (no arguments lists
// importable pools without importing them) and parses the pool/state
// pairs out of its human-readable output, the zfspooldetect view
// module's contract (spec.md §4.5.9).
func DetectImportablePools(ctx context.Context, opts procexec.Options) ([]ImportablePool, error) {
	res, err := procexec.Run(ctx, []string{"zpool", "import"}, opts)
	if err != nil {
		// zpool import exits non-zero when there is nothing to import;
		// that is not a detection failure, just an empty result.
		if res.ExitCode == 1 && len(res.Tail) == 0 {
			return nil, nil
		}
	}
	return parseImportOutput(res.Tail), nil
}

// parseImportOutput walks zpool import's human-readable listing,
// pairing each "pool:" header with its following "state:" line.
func parseImportOutput(lines []string) []ImportablePool {
	var pools []ImportablePool
	var current string
	for _, line := range lines {
		if m := poolHeaderPattern.FindStringSubmatch(line); m != nil {
			current = m[1]
			pools = append(pools, ImportablePool{Name: current})
			continue
		}
		if m := poolStatePattern.FindStringSubmatch(line); m != nil && current != "" {
			pools[len(pools)-1].State = m[1]
		}
	}
	return pools
}

// normalizeState lowercases a zpool status word for comparison, since
// zpool import's output capitalizes it ("ONLINE") while globalstorage
// consumers compare lowercase.
func normalizeState(s string) string { return strings.ToLower(s) }

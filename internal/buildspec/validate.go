package buildspec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// compressionPattern accepts lz4, off, gzip/zstd bare, gzip-N with N
// in 1..9, and zstd-N with N in 1..19, the same numbered-level family
// zfs(8) documents for the compression property.
var compressionPattern = regexp.MustCompile(`^(lz4|off|gzip|zstd|gzip-([1-9])|zstd-(1[0-9]|[1-9]))$`)

// Validate runs plan through the embedded JSON Schema for shape and
// enum checks, then applies the handful of business rules the schema
// can't express (numbered compression levels, ARC max's string-or-int
// union, the must-not-be-empty module list).
func Validate(plan *BuildPlan) error {
	var errs []string

	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshaling plan for validation: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	docLoader := gojsonschema.NewBytesLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("running schema validation: %w", err)
	}
	if !result.Valid() {
		for _, re := range result.Errors() {
			errs = append(errs, re.String())
		}
	}

	if !compressionPattern.MatchString(plan.Zfs.Compression) {
		errs = append(errs, fmt.Sprintf("zfs_config.compression: %q is not one of lz4, off, gzip[-1..9], zstd[-1..19]", plan.Zfs.Compression))
	}

	if err := validateARCMax(plan); err != "" {
		errs = append(errs, err)
	}

	if len(plan.Modules) == 0 {
		return fmt.Errorf("%w: build plan has an empty module list", zerrors.ErrMissingRequired)
	}

	seen := make(map[string]bool, len(plan.Modules))
	for _, m := range plan.Modules {
		if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("modules: %q listed more than once", m.Name))
		}
		seen[m.Name] = true
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", zerrors.ErrValidation, strings.Join(errs, "; "))
}

// validateARCMax checks the optional ARC max override embedded in the
// hardware overlay raw tree, if present: it must be the literal string
// "auto" or a non-negative integer byte count. Returns "" when valid.
func validateARCMax(plan *BuildPlan) string {
	if plan.Hardware == nil || plan.Hardware.Raw == nil {
		return ""
	}
	v, ok := plan.Hardware.Raw["zfs_arc_max_bytes"]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		if t == "auto" {
			return ""
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil && n >= 0 {
			return ""
		}
	case int:
		if t >= 0 {
			return ""
		}
	case int64:
		if t >= 0 {
			return ""
		}
	case float64:
		if t >= 0 {
			return ""
		}
	}
	return fmt.Sprintf("hardware_overlay.zfs_arc_max_bytes: %v is not \"auto\" or a non-negative byte count", v)
}

package buildspec

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// applyOverlay deep-merges a hardware overlay document onto plan:
// scalars and maps are merged key by key, but lists are replaced
// wholesale rather than concatenated, since an overlay's package list
// or dracut extra-drivers list means "use exactly this," not "append
// to the base." The merged tree is then re-decoded through the same
// strict per-section path decodeSections uses, so an overlay can't
// sneak in an unknown option either.
func applyOverlay(plan *BuildPlan, raw []byte, entry *log.Entry) error {
	var overlayTop map[string]interface{}
	if err := yaml.Unmarshal(raw, &overlayTop); err != nil {
		return fmt.Errorf("parsing overlay yaml: %w", err)
	}

	base, err := planToMap(plan)
	if err != nil {
		return err
	}

	for key := range overlayTop {
		if key != "hardware_overlay" && !knownSections[key] {
			entry.WithField("section", key).Warn("overlay references unrecognized top-level section")
		}
	}

	merged := deepMerge(base, overlayTop).(map[string]interface{})

	mergedYAML, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("re-marshaling merged overlay: %w", err)
	}

	remerged, err := decodeSections(mergedYAML, entry)
	if err != nil {
		return fmt.Errorf("%w: overlay produced invalid plan: %v", zerrors.ErrValidation, err)
	}

	*plan = *remerged
	return nil
}

// planToMap round-trips plan through YAML to get a generic merge tree
// with the same key names overlay documents use.
func planToMap(plan *BuildPlan) (map[string]interface{}, error) {
	b, err := yaml.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshaling plan for merge: %w", err)
	}
	var m map[string]interface{}
	if err := yaml.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		return nil, fmt.Errorf("remarshaling plan for merge: %w", err)
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}

// deepMerge returns the result of layering src onto base. Maps recurse
// key by key; any other type, including slices, is replaced outright.
func deepMerge(base, src interface{}) interface{} {
	baseMap, baseIsMap := base.(map[string]interface{})
	srcMap, srcIsMap := src.(map[string]interface{})

	if baseIsMap && srcIsMap {
		out := make(map[string]interface{}, len(baseMap))
		for k, v := range baseMap {
			out[k] = v
		}
		for k, v := range srcMap {
			if existing, ok := out[k]; ok {
				out[k] = deepMerge(existing, v)
			} else {
				out[k] = v
			}
		}
		return out
	}
	return src
}

package buildspec

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// knownSections mirrors pkg/pipeline/config.go's section allowlist: a
// top-level key outside this set is logged, not rejected, since new
// hardware overlays and future sections should not break old specs.
var knownSections = map[string]bool{
	"builder_config":              true,
	"zfs_config":                  true,
	"proxmox_config":               true,
	"bootloader_config":            true,
	"dracut_config":                true,
	"modules":                      true,
	"hardware_overlay":             true,
	"telemetry":                    true,
	"security_hardening_profile":   true,
}

// Load reads, defaults, overlays, and validates a BuildPlan from path,
// applying each overlay file in overlayPaths in order. It never returns
// a partially-decoded plan: any section that fails strict decoding
// aborts the whole load.
func Load(path string, overlayPaths []string, entry *log.Entry) (*BuildPlan, error) {
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading build plan %s", path)
	}

	plan, err := decodeSections(raw, entry)
	if err != nil {
		return nil, err
	}

	for _, op := range overlayPaths {
		overlayRaw, err := os.ReadFile(op)
		if err != nil {
			return nil, errors.Wrapf(err, "reading hardware overlay %s", op)
		}
		if err := applyOverlay(plan, overlayRaw, entry); err != nil {
			return nil, errors.Wrapf(err, "applying hardware overlay %s", op)
		}
	}

	applyDefaults(plan)

	if err := Validate(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// decodeSections decodes raw into a BuildPlan, rejecting unknown keys
// within a known section (ErrUnknownOption) while only warning about
// unknown top-level sections, the same two-tier tolerance
// pkg/pipeline/config.go applies to COSA's build config.
func decodeSections(raw []byte, entry *log.Entry) (*BuildPlan, error) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return nil, errors.Wrap(err, "parsing build plan yaml")
	}

	for key := range top {
		if !knownSections[key] {
			entry.WithField("section", key).Warn("ignoring unrecognized top-level section")
		}
	}

	plan := &BuildPlan{}

	decodeInto := func(key string, dst interface{}) error {
		node, ok := top[key]
		if !ok {
			return nil
		}
		dec := nodeDecoder(&node)
		if err := dec.Decode(dst); err != nil {
			return fmt.Errorf("section %q: %w: %v", key, zerrors.ErrUnknownOption, err)
		}
		return nil
	}

	if err := decodeInto("builder_config", &plan.Builder); err != nil {
		return nil, err
	}
	if err := decodeInto("zfs_config", &plan.Zfs); err != nil {
		return nil, err
	}
	if err := decodeInto("proxmox_config", &plan.Proxmox); err != nil {
		return nil, err
	}
	if err := decodeInto("bootloader_config", &plan.Bootloader); err != nil {
		return nil, err
	}
	if err := decodeInto("dracut_config", &plan.Dracut); err != nil {
		return nil, err
	}
	if err := decodeInto("modules", &plan.Modules); err != nil {
		return nil, err
	}
	if err := decodeInto("telemetry", &plan.Telemetry); err != nil {
		return nil, err
	}

	if node, ok := top["security_hardening_profile"]; ok {
		if err := node.Decode(&plan.SecurityProfile); err != nil {
			return nil, fmt.Errorf("section %q: %w: %v", "security_hardening_profile", zerrors.ErrUnknownOption, err)
		}
	}

	if node, ok := top["hardware_overlay"]; ok {
		var raw map[string]interface{}
		if err := node.Decode(&raw); err != nil {
			return nil, fmt.Errorf("section %q: %w: %v", "hardware_overlay", zerrors.ErrUnknownOption, err)
		}
		name, _ := raw["name"].(string)
		plan.Hardware = &HardwareOverlay{Name: name, Raw: raw}
	}

	return plan, nil
}

// nodeDecoder re-marshals a yaml.Node back to bytes and re-decodes it
// through a strict decoder, the only way to get KnownFields(true)
// enforcement per-section out of an already-parsed node tree.
func nodeDecoder(node *yaml.Node) *yaml.Decoder {
	b, _ := yaml.Marshal(node)
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec
}

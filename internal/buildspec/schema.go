package buildspec

// schemaJSON is the embedded JSON Schema used to shape- and enum-
// validate a decoded BuildPlan, the same mechanism pkg/builds/schema.go
// uses gojsonschema for against COSA's meta.json. Field-level business
// rules gojsonschema cannot express cleanly (ARC max's "auto"-or-bytes
// union, ashift's small enumerated set is handled here too, but the
// compression family needs a companion Go-level check for "zstd-N"/
// "gzip-N") live in validate.go instead.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["builder_config", "zfs_config", "proxmox_config", "bootloader_config", "dracut_config", "modules"],
  "properties": {
    "builder_config": {
      "type": "object",
      "properties": {
        "release": {"type": "string", "enum": ["bookworm", "bullseye", "trixie"]},
        "kernel_selector": {"type": "string"},
        "cache_packages": {"type": "boolean"}
      }
    },
    "zfs_config": {
      "type": "object",
      "properties": {
        "build_from_source": {"type": "boolean"},
        "compression": {"type": "string"},
        "default_raid_type": {"type": "string", "enum": ["", "stripe", "mirror", "raidz1", "raidz2", "raidz3"]},
        "ashift": {"type": "string", "enum": ["auto", "9", "12", "13"]},
        "encryption": {
          "type": "object",
          "properties": {
            "algorithm": {"type": "string"},
            "pbkdf_iterations": {"type": "integer", "minimum": 0},
            "prompt_policy": {"type": "string"}
          }
        }
      }
    },
    "proxmox_config": {
      "type": "object",
      "properties": {
        "version": {"type": "string"},
        "minimal_install": {"type": "boolean"},
        "packages": {"type": "array", "items": {"type": "string"}}
      }
    },
    "bootloader_config": {
      "type": "object",
      "properties": {
        "primary": {"type": "string", "enum": ["zfsbootmenu"]},
        "enable_opencore": {"type": "boolean"},
        "opencore_drivers": {"type": "array", "items": {"type": "string"}},
        "device_path_template": {"type": "string"},
        "uefi": {"type": "boolean"}
      }
    },
    "dracut_config": {
      "type": "object",
      "properties": {
        "modules": {"type": "array", "items": {"type": "string"}},
        "compression": {"type": "string"},
        "hostonly": {"type": "boolean"},
        "kernel_cmdline": {"type": "string"},
        "extra_drivers": {"type": "array", "items": {"type": "string"}}
      }
    },
    "modules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "enabled"],
        "properties": {
          "name": {"type": "string"},
          "enabled": {"type": "boolean"}
        }
      }
    },
    "security_hardening_profile": {"type": "string", "enum": ["", "baseline", "server", "none"]}
  }
}`

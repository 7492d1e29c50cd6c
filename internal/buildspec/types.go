// Package buildspec loads, overlays, and validates the YAML build
// specification into a BuildPlan, the in-memory form every pipeline
// module reads. Decoding follows pkg/pipeline/config.go's
// yaml.v3+KnownFields(true) pattern; shape validation additionally
// runs the plan through github.com/xeipuuv/gojsonschema the way
// pkg/builds/schema.go validates COSA's meta.json.
package buildspec

// BuildPlan is the fully validated, defaulted, overlay-merged build
// specification (spec.md §3).
type BuildPlan struct {
	Builder     BuilderConfig    `yaml:"builder_config" json:"builder_config"`
	Zfs         ZFSConfig        `yaml:"zfs_config" json:"zfs_config"`
	Proxmox     ProxmoxConfig    `yaml:"proxmox_config" json:"proxmox_config"`
	Bootloader  BootloaderConfig `yaml:"bootloader_config" json:"bootloader_config"`
	Dracut      DracutConfig     `yaml:"dracut_config" json:"dracut_config"`
	Modules     []ModuleEntry    `yaml:"modules" json:"modules"`
	Hardware    *HardwareOverlay `yaml:"hardware_overlay,omitempty" json:"hardware_overlay,omitempty"`
	Telemetry   TelemetryConfig  `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	SecurityProfile string       `yaml:"security_hardening_profile,omitempty" json:"security_hardening_profile,omitempty"`
}

// BuilderConfig describes the base Debian system to construct.
type BuilderConfig struct {
	Release        string `yaml:"release,omitempty" json:"release,omitempty"`
	KernelSelector string `yaml:"kernel_selector,omitempty" json:"kernel_selector,omitempty"`
	CachePackages  bool   `yaml:"cache_packages,omitempty" json:"cache_packages,omitempty"`
}

// ProxmoxConfig describes the Proxmox package set to integrate.
type ProxmoxConfig struct {
	Version        string   `yaml:"version,omitempty" json:"version,omitempty"`
	MinimalInstall bool     `yaml:"minimal_install,omitempty" json:"minimal_install,omitempty"`
	Packages       []string `yaml:"packages,omitempty" json:"packages,omitempty"`
}

// ZFSConfig describes how ZFS is built/installed and defaulted.
type ZFSConfig struct {
	BuildFromSource bool             `yaml:"build_from_source,omitempty" json:"build_from_source,omitempty"`
	Compression     string           `yaml:"compression,omitempty" json:"compression,omitempty"`
	DefaultRaidType string           `yaml:"default_raid_type,omitempty" json:"default_raid_type,omitempty"`
	Ashift          string           `yaml:"ashift,omitempty" json:"ashift,omitempty"`
	Encryption      EncryptionConfig `yaml:"encryption,omitempty" json:"encryption,omitempty"`
}

// EncryptionConfig describes the ZFS encryption defaults offered by
// the installer wizard.
type EncryptionConfig struct {
	Algorithm     string `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	PBKDFIterations int  `yaml:"pbkdf_iterations,omitempty" json:"pbkdf_iterations,omitempty"`
	PromptPolicy  string `yaml:"prompt_policy,omitempty" json:"prompt_policy,omitempty"`
}

// BootloaderConfig describes the boot chain the ISO stages.
type BootloaderConfig struct {
	Primary            string   `yaml:"primary,omitempty" json:"primary,omitempty"`
	EnableOpenCore     bool     `yaml:"enable_opencore,omitempty" json:"enable_opencore,omitempty"`
	OpenCoreDrivers    []string `yaml:"opencore_drivers,omitempty" json:"opencore_drivers,omitempty"`
	DevicePathTemplate string   `yaml:"device_path_template,omitempty" json:"device_path_template,omitempty"`
	UEFI               bool     `yaml:"uefi,omitempty" json:"uefi,omitempty"`
}

// DracutConfig describes initramfs generation.
type DracutConfig struct {
	Modules      []string `yaml:"modules,omitempty" json:"modules,omitempty"`
	Compression  string   `yaml:"compression,omitempty" json:"compression,omitempty"`
	Hostonly     bool     `yaml:"hostonly,omitempty" json:"hostonly,omitempty"`
	CommandLine  string   `yaml:"kernel_cmdline,omitempty" json:"kernel_cmdline,omitempty"`
	ExtraDrivers []string `yaml:"extra_drivers,omitempty" json:"extra_drivers,omitempty"`
}

// ModuleEntry is one entry in the ordered pipeline module list.
type ModuleEntry struct {
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// HardwareOverlay is a per-server preset (R420, R730xd, ...) merged
// onto the rest of the BuildPlan by deep-merge before validation.
type HardwareOverlay struct {
	Name     string                 `yaml:"name,omitempty" json:"name,omitempty"`
	Raw      map[string]interface{} `yaml:"-" json:"-"`
}

// TelemetryConfig describes the optional telemetry submission endpoint.
type TelemetryConfig struct {
	EndpointURL string `yaml:"endpoint_url,omitempty" json:"endpoint_url,omitempty"`
}

// CanonicalModuleOrder is the pipeline's authoritative module sequence
// (spec.md §2/§3): later modules may depend on all earlier modules'
// outputs, and enable flags only skip, never reorder.
var CanonicalModuleOrder = []string{
	"WorkspaceSetup",
	"Debootstrap",
	"KernelAcquisition",
	"ZFSBuild",
	"DracutConfig",
	"ProxmoxIntegration",
	"BootloaderSetup",
	"LiveEnvironment",
	"CalamaresIntegration",
	"SecurityHardening",
	"ISOGeneration",
}

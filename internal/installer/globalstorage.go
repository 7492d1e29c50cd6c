// Package installer implements the installer-side contracts frozen at
// spec.md §3, §4.6–§4.8: the globalstorage key-value map the installer
// framework's view and job modules share, pool creation, bootloader
// install, and telemetry submission. These run inside the installed
// target or the live environment, not inside the build pipeline
// itself, but their contract is authored and versioned alongside the
// builder so the ISO's staged installer assets (internal/modules's
// CalamaresIntegration) stay compatible with it.
package installer

import "encoding/json"

// OperationMode selects whether the installer creates a new pool or
// retrofits an existing one (spec.md §3).
type OperationMode string

const (
	ModeNewPool      OperationMode = "new_pool"
	ModeExistingPool OperationMode = "existing_pool"
)

// InstallMode selects how the install dataset is placed onto an
// existing pool.
type InstallMode string

const (
	InstallModeNew      InstallMode = "new"
	InstallModeReplace  InstallMode = "replace"
	InstallModeAlongside InstallMode = "alongside"
)

// GlobalStorage is the typed view over the installer framework's
// shared key-value map (spec.md §3's InstallerGlobalStorage). Job
// modules read it; view modules write it. Keeping it as a Go struct
// with JSON tags lets CalamaresIntegration's staged shellprocess
// scripts and the zforge-installer-helper binary exchange it as a
// single JSON document rather than individual --flag values.
type GlobalStorage struct {
	ZFSOperationMode      OperationMode `json:"zfs_operation_mode"`
	ZFSNewPoolCommand     []string      `json:"zfs_new_pool_command,omitempty"`
	ZFSNewPoolName        string        `json:"zfs_new_pool_name,omitempty"`
	ZFSInstallDatasetRel  string        `json:"zfs_install_dataset_relative,omitempty"`

	InstallPool    string      `json:"install_pool,omitempty"`
	InstallDataset string      `json:"install_dataset,omitempty"`
	InstallMode    InstallMode `json:"install_mode,omitempty"`

	Compression string `json:"compression,omitempty"`
	RecordSize  string `json:"recordsize,omitempty"`
	Ashift      int    `json:"ashift,omitempty"`
	Atime       bool   `json:"atime,omitempty"`
	Xattr       string `json:"xattr,omitempty"`
	DnodeSize   string `json:"dnodesize,omitempty"`
	ARCMax      string `json:"arc_max,omitempty"`

	EncryptionEnabled bool   `json:"encryption_enabled,omitempty"`
	EncryptionAlgo    string `json:"encryption_algorithm,omitempty"`
	KeyFormat         string `json:"keyformat,omitempty"`
	KeyLocation       string `json:"keylocation,omitempty"`
	Passphrase        string `json:"passphrase,omitempty"` // ephemeral; see ClearEphemeral

	Disks    []string `json:"disks,omitempty"`
	RaidType string   `json:"raid_type,omitempty"`

	SecurityHardeningProfile string `json:"security_hardening_profile,omitempty"`
	TelemetryConsentGiven    bool   `json:"telemetry_consent_given,omitempty"`
	TelemetryEndpointURL     string `json:"telemetry_endpoint_url,omitempty"`

	ESPDevice      string `json:"esp_device,omitempty"`
	ZBMImageCount  int    `json:"zbm_image_count,omitempty"`
	TwoStageBoot   bool   `json:"two_stage_boot,omitempty"`
	OpenCoreDevice string `json:"opencore_device,omitempty"`
	ChainloadPath  string `json:"chainload_path,omitempty"`

	ImportablePools []ImportablePool `json:"zfs_importable_pools,omitempty"`
}

// ClearEphemeral zeroes the passphrase field. spec.md §3: "Passphrases
// are marked ephemeral: the installer pipeline must clear them from
// persistent storage after pool creation." Called once the keyfile
// used for zpool create has already been written and removed.
func (g *GlobalStorage) ClearEphemeral() {
	g.Passphrase = ""
}

// Marshal/Unmarshal round-trip GlobalStorage as the JSON document
// passed between the staged Calamares shellprocess scripts and
// zforge-installer-helper via stdin, matching spec.md §8's round-trip
// testable property applied to the installer side of the contract.
func (g *GlobalStorage) Marshal() ([]byte, error) {
	return json.Marshal(g)
}

func Unmarshal(data []byte) (*GlobalStorage, error) {
	var g GlobalStorage
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

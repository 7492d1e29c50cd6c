// Package calamaresassets embeds the source tree for Z-FORGE's custom
// installer job/view modules (spec.md §4.5.9), the way
// mantle/kola/tests/iso/live-iscsi.go embeds a static butane config
// with go:embed rather than reading it off disk at runtime. Embedding
// keeps "is the required module's source present in the repo" a
// question the CalamaresIntegration module can answer by reading this
// FS, matching spec.md's ErrInstallerAssetMissing contract even though
// the embed itself is resolved at compile time.
package calamaresassets

import "embed"

//go:embed zfspooldetect zfsrootselect zfsbootloader proxmoxconfig zforgefinalize securityhardening telemetryconsent telemetryjob
var FS embed.FS

// RequiredModules is the frozen list from spec.md §4.5.9 (and
// SPEC_FULL.md §13 decision 1): any other asset under this tree is
// optional and not validated for presence.
var RequiredModules = []string{
	"zfspooldetect",
	"zfsrootselect",
	"zfsbootloader",
	"proxmoxconfig",
	"zforgefinalize",
	"securityhardening",
	"telemetryconsent",
	"telemetryjob",
}

package buildspec

// applyDefaults fills unset fields per spec.md §4.1's default table.
// It runs after overlays are merged and fills only fields that are
// still empty, so a value from the spec or an overlay is kept.
func applyDefaults(p *BuildPlan) {
	if p.Builder.Release == "" {
		p.Builder.Release = "bookworm"
	}
	if p.Builder.KernelSelector == "" {
		p.Builder.KernelSelector = "latest"
	}
	if p.Zfs.Compression == "" {
		p.Zfs.Compression = "lz4"
	}
	if p.Zfs.Ashift == "" {
		p.Zfs.Ashift = "auto"
	}
	if p.Dracut.Compression == "" {
		p.Dracut.Compression = "zstd"
	}
	if p.Dracut.CommandLine == "" {
		p.Dracut.CommandLine = "root=zfs:AUTO"
	}
	if p.Bootloader.Primary == "" {
		p.Bootloader.Primary = "zfsbootmenu"
	}
	if p.SecurityProfile == "" {
		p.SecurityProfile = "none"
	}
	if len(p.Modules) == 0 {
		p.Modules = canonicalModuleEntries()
	}
}

func canonicalModuleEntries() []ModuleEntry {
	entries := make([]ModuleEntry, len(CanonicalModuleOrder))
	for i, name := range CanonicalModuleOrder {
		entries[i] = ModuleEntry{Name: name, Enabled: true}
	}
	return entries
}

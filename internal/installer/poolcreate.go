package installer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// poolNamePattern matches spec.md §8's testable property: alphanumeric
// plus "_-.", must begin with a letter, no trailing hyphen (expressed
// here as "must not end in a hyphen", the stronger of the two
// equivalent readings of §8's regex).
var poolNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*[A-Za-z0-9_.]$`)

// ValidatePoolName rejects pool names that aren't syntactically valid
// per spec.md §4.6/§8. The pattern needs at least two characters, so a
// single-letter name is checked separately and accepted.
func ValidatePoolName(name string) error {
	if len(name) == 1 {
		if regexp.MustCompile(`^[A-Za-z]$`).MatchString(name) {
			return nil
		}
		return fmt.Errorf("%w: pool name %q is not syntactically valid", zerrors.ErrValidation, name)
	}
	if !poolNamePattern.MatchString(name) {
		return fmt.Errorf("%w: pool name %q is not syntactically valid", zerrors.ErrValidation, name)
	}
	return nil
}

// ephemeralKeyPath is the tmpfs-backed path the ephemeral passphrase
// keyfile is written to and removed from, per spec.md §4.6.
const ephemeralKeyPath = "/run/.zforge-key"

// BuildCreateArgv assembles the `zpool create` argv from globalstorage
// (spec.md §4.6/§8 scenario 4): RAID type, disks, ashift as a -o pool
// property, and -O properties for compression, recordsize, atime,
// xattr, dnodesize, and encryption. Encryption options set keylocation=file://<keyfile>
// for pool creation and the caller is expected to re-set
// keylocation=prompt afterward (CreatePool does this). The argv is
// also published back to globalstorage as zfs_new_pool_command, so
// the zfsrootselect confirmation screen can show the exact command
// the pool-create job will run.
func BuildCreateArgv(gs *GlobalStorage) ([]string, error) {
	if err := ValidatePoolName(gs.ZFSNewPoolName); err != nil {
		return nil, err
	}
	if len(gs.Disks) == 0 {
		return nil, fmt.Errorf("%w: no disks selected for pool creation", zerrors.ErrValidation)
	}

	argv := []string{"zpool", "create", "-f"}

	if gs.Ashift > 0 {
		argv = append(argv, "-o", fmt.Sprintf("ashift=%d", gs.Ashift))
	}
	if gs.Compression != "" {
		argv = append(argv, "-O", "compression="+gs.Compression)
	}
	if gs.RecordSize != "" {
		argv = append(argv, "-O", "recordsize="+gs.RecordSize)
	}
	argv = append(argv, "-O", "atime="+boolOnOff(gs.Atime))
	if gs.Xattr != "" {
		argv = append(argv, "-O", "xattr="+gs.Xattr)
	}
	if gs.DnodeSize != "" {
		argv = append(argv, "-O", "dnodesize="+gs.DnodeSize)
	}

	if gs.EncryptionEnabled {
		algo := gs.EncryptionAlgo
		if algo == "" {
			algo = "aes-256-gcm"
		}
		argv = append(argv,
			"-O", "encryption="+algo,
			"-O", "keyformat=passphrase",
			"-O", "keylocation=file://"+ephemeralKeyPath,
		)
	}

	argv = append(argv, gs.ZFSNewPoolName)

	if gs.RaidType != "" && gs.RaidType != "stripe" {
		argv = append(argv, gs.RaidType)
	}
	argv = append(argv, gs.Disks...)

	gs.ZFSNewPoolCommand = argv
	return argv, nil
}

// CreatePool runs the full pool-creation sequence (spec.md §4.6): it
// writes the ephemeral passphrase keyfile (mode 0600) when encryption
// is enabled, runs the generated `zpool create` argv, deletes the
// keyfile immediately, resets keylocation to "prompt" so boot requires
// the passphrase, creates the nested ROOT/<distro> dataset tree, sets
// install-dataset properties, exports, and re-imports with -R
// /mnt/target to lock the target mountpoint before population.
func CreatePool(ctx context.Context, gs *GlobalStorage, distro string, entry procexec.Options) error {
	argv, err := BuildCreateArgv(gs)
	if err != nil {
		return err
	}

	if gs.EncryptionEnabled {
		if gs.Passphrase == "" {
			return fmt.Errorf("%w: encryption enabled but no passphrase supplied", zerrors.ErrValidation)
		}
		if err := os.WriteFile(ephemeralKeyPath, []byte(gs.Passphrase), 0o600); err != nil {
			return fmt.Errorf("writing ephemeral keyfile: %w", err)
		}
		defer os.Remove(ephemeralKeyPath)
	}

	if _, err := procexec.Run(ctx, argv, entry); err != nil {
		return fmt.Errorf("zpool create: %w", err)
	}

	if gs.EncryptionEnabled {
		if err := os.Remove(ephemeralKeyPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing ephemeral keyfile: %w", err)
		}
		if _, err := procexec.Run(ctx, []string{"zfs", "set", "keylocation=prompt", gs.ZFSNewPoolName}, entry); err != nil {
			return fmt.Errorf("resetting keylocation to prompt: %w", err)
		}
		gs.ClearEphemeral()
	}

	rootDataset := gs.ZFSNewPoolName + "/ROOT"
	installDataset := rootDataset + "/" + distro
	if _, err := procexec.Run(ctx, []string{"zfs", "create", "-o", "mountpoint=none", rootDataset}, entry); err != nil {
		return fmt.Errorf("creating dataset %s: %w", rootDataset, err)
	}
	// canmount=noauto keeps mountpoint=/ from mounting over the live
	// root here; the explicit zfs mount below lands it under the
	// altroot once the pool is re-imported with -R /mnt/target.
	if _, err := procexec.Run(ctx, []string{"zfs", "create", "-o", "canmount=noauto", "-o", "mountpoint=/", installDataset}, entry); err != nil {
		return fmt.Errorf("creating dataset %s: %w", installDataset, err)
	}
	if gs.ARCMax != "" && gs.ARCMax != "auto" {
		if _, err := strconv.ParseInt(gs.ARCMax, 10, 64); err == nil {
			if werr := os.WriteFile("/sys/module/zfs/parameters/zfs_arc_max", []byte(gs.ARCMax), 0o644); werr != nil && entry.Entry != nil {
				entry.Entry.WithError(werr).Warn("failed to set zfs_arc_max at install time; left to runtime defaults")
			}
		}
	}

	if _, err := procexec.Run(ctx, []string{"zpool", "export", gs.ZFSNewPoolName}, entry); err != nil {
		return fmt.Errorf("exporting pool for relocking: %w", err)
	}
	if _, err := procexec.Run(ctx, []string{"zpool", "import", "-R", "/mnt/target", gs.ZFSNewPoolName}, entry); err != nil {
		return fmt.Errorf("re-importing pool with -R /mnt/target: %w", err)
	}

	if _, err := procexec.Run(ctx, []string{"zfs", "mount", installDataset}, entry); err != nil {
		return fmt.Errorf("mounting install dataset: %w", err)
	}

	gs.InstallPool = gs.ZFSNewPoolName
	gs.InstallDataset = installDataset
	return nil
}

func boolOnOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

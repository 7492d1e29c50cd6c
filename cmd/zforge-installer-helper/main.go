// zforge-installer-helper is the installer-side companion to the
// zforge build pipeline (spec.md §4.6–§4.9): it is invoked by the
// staged Calamares job scripts (internal/modules/calamaresassets) to
// perform pool creation, bootloader install, pool detection, and
// telemetry submission against a GlobalStorage JSON document exchanged
// over stdin/stdout, the same "one JSON document in, one out" contract
// gangplank's own remote command helpers use.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SWORDIntel/Z-FORGE/internal/installer"
	"github.com/SWORDIntel/Z-FORGE/internal/procexec"
)

const defaultTargetRoot = "/mnt/target"
const defaultDistro = "proxmox"

func main() {
	root := &cobra.Command{
		Use:   "zforge-installer-helper",
		Short: "Installer-side helper for the Z-FORGE installed target",
	}
	root.AddCommand(
		poolCreateCmd(),
		poolDetectCmd(),
		bootloaderInstallCmd(),
		telemetrySubmitCmd(),
		finalizeCmd(),
	)
	if err := root.Execute(); err != nil {
		log.WithError(err).Error("zforge-installer-helper failed")
		os.Exit(1)
	}
}

func readGlobalStorage() (*installer.GlobalStorage, error) {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading globalstorage from stdin: %w", err)
	}
	return installer.Unmarshal(raw)
}

func writeGlobalStorage(gs *installer.GlobalStorage) error {
	raw, err := gs.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling globalstorage: %w", err)
	}
	_, err = os.Stdout.Write(raw)
	return err
}

func targetRootEnv() string {
	if v := os.Getenv("TARGET_ROOT"); v != "" {
		return v
	}
	return defaultTargetRoot
}

func poolCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool-create",
		Short: "Create or import the ZFS pool described by a GlobalStorage document on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			gs, err := readGlobalStorage()
			if err != nil {
				return err
			}

			entry := log.WithField("command", "pool-create")
			if gs.ZFSOperationMode == installer.ModeExistingPool {
				if _, err := procexec.Run(cmd.Context(), []string{"zpool", "import", "-R", defaultTargetRoot, gs.InstallPool}, procexec.Options{Entry: entry}); err != nil {
					return fmt.Errorf("importing existing pool %s: %w", gs.InstallPool, err)
				}
			} else {
				if err := installer.CreatePool(cmd.Context(), gs, defaultDistro, procexec.Options{Entry: entry}); err != nil {
					return err
				}
			}

			return writeGlobalStorage(gs)
		},
	}
}

func poolDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool-detect",
		Short: "List pools importable from the live medium as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			pools, err := installer.DetectImportablePools(cmd.Context(), procexec.Options{Entry: log.WithField("command", "pool-detect")})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			return enc.Encode(pools)
		},
	}
}

func bootloaderInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootloader-install",
		Short: "Install ZFSBootMenu (and optionally OpenCore) onto the mounted target",
		RunE: func(cmd *cobra.Command, args []string) error {
			gs, err := readGlobalStorage()
			if err != nil {
				return err
			}

			spec := installer.BootloaderInstallSpec{
				TargetRoot:     targetRootEnv(),
				ESPDevice:      gs.ESPDevice,
				ZBMImageCount:  gs.ZBMImageCount,
				TwoStageBoot:   gs.TwoStageBoot,
				OpenCoreDevice: gs.OpenCoreDevice,
				ChainloadPath:  gs.ChainloadPath,
			}
			entry := log.WithField("command", "bootloader-install")
			if err := installer.InstallBootloader(cmd.Context(), spec, procexec.Options{Entry: entry}); err != nil {
				return err
			}
			return writeGlobalStorage(gs)
		},
	}
}

func telemetrySubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "telemetry-submit",
		Short: "Submit the best-effort telemetry payload described by a GlobalStorage document on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			gs, err := readGlobalStorage()
			if err != nil {
				return err
			}

			payload := installer.NewPayload("", "", installer.Hardware{}, installer.Choices{
				RaidType:         gs.RaidType,
				EncryptionOn:     gs.EncryptionEnabled,
				HardeningProfile: gs.SecurityHardeningProfile,
			}, "completed")

			entry := log.WithField("command", "telemetry-submit")
			return installer.Submit(context.Background(), gs.TelemetryEndpointURL, gs.TelemetryConsentGiven, payload, entry)
		},
	}
}

func finalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize",
		Short: "Best-effort post-install cleanup once Calamares has unmounted the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.WithField("command", "finalize").Info("installer finalize: nothing further to clean up")
			return nil
		},
	}
}

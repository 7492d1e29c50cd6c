// zforge drives the build pipeline described in spec.md §2-§5: it
// loads a build specification, resolves it into a BuildPlan, and runs
// or resumes the module pipeline against a workspace, following
// gangplank/cmd/gangplank/main.go's pattern of a cobra root command
// wrapping a context that a signal handler cancels.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SWORDIntel/Z-FORGE/internal/archiveutil"
	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/checkpoint"
	"github.com/SWORDIntel/Z-FORGE/internal/chroot"
	"github.com/SWORDIntel/Z-FORGE/internal/modules"
	"github.com/SWORDIntel/Z-FORGE/internal/pipeline"
	"github.com/SWORDIntel/Z-FORGE/internal/workspace"
	"github.com/SWORDIntel/Z-FORGE/internal/zerrors"
)

// Exit codes per spec.md §6.
const (
	exitSuccess          = 0
	exitValidationError  = 1
	exitModuleError      = 2
	exitWorkspaceDirty   = 3
	exitCancelled        = 130
)

var (
	logLevel   string
	workspaceDir string
)

func main() {
	root := &cobra.Command{
		Use:   "zforge",
		Short: "Z-FORGE: build a bootable Proxmox VE-on-OpenZFS installer ISO",
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&workspaceDir, "workspace", "./zforge-workspace", "workspace root directory")

	root.AddCommand(buildCmd(), inspectCheckpointCmd(), cleanCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func setupLogging() *log.Entry {
	lvl, err := log.ParseLevel(logLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger := log.New()
	logger.SetLevel(lvl)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return log.NewEntry(logger)
}

// exitCodeFor maps a pipeline failure to spec.md §6's exit code table.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case ctxCancelled(err):
		return exitCancelled
	case isValidationErr(err):
		return exitValidationError
	case isWorkspaceDirtyErr(err):
		return exitWorkspaceDirty
	default:
		return exitModuleError
	}
}

func ctxCancelled(err error) bool {
	return zerrorsIs(err, context.Canceled) || zerrorsIs(err, zerrors.ErrCancelled)
}

func isValidationErr(err error) bool {
	return zerrorsIs(err, zerrors.ErrValidation) || zerrorsIs(err, zerrors.ErrUnknownOption)
}

func isWorkspaceDirtyErr(err error) bool {
	return zerrorsIs(err, zerrors.ErrWorkspaceDirty)
}

// zerrorsIs reports whether target appears in err's chain, comparing
// with == at each step of the single Unwrap() error chain. It does not
// follow Unwrap() []error or consult Is methods.
func zerrorsIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func buildCmd() *cobra.Command {
	var specPath string
	var overlayPaths []string
	var resume bool
	var clean bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run or resume the build pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := setupLogging()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			installSignalHandler(cancel, entry)

			plan, err := buildspec.Load(specPath, overlayPaths, entry)
			if err != nil {
				return err
			}
			if err := buildspec.Validate(plan); err != nil {
				return err
			}

			if dryRun {
				entry.Info("dry-run: build specification is valid")
				for _, m := range plan.Modules {
					status := "enabled"
					if !m.Enabled {
						status = "disabled"
					}
					fmt.Printf("%s\t%s\n", m.Name, status)
				}
				return nil
			}

			if clean {
				if err := os.RemoveAll(workspaceDir); err != nil {
					return fmt.Errorf("cleaning workspace %s: %w", workspaceDir, err)
				}
			}

			ws, err := workspace.Acquire(workspaceDir, entry)
			if err != nil {
				return err
			}
			defer func() {
				if err := ws.Release(); err != nil {
					entry.WithError(err).Error("workspace release failed")
				}
			}()

			store, err := checkpoint.Open(ws.StateDir)
			if err != nil {
				return fmt.Errorf("opening checkpoint store: %w", err)
			}

			executor := chroot.NewExecutor(ws.ChrootDir, ws.CacheDir, plan.Builder.CachePackages, entry)
			deps := &modules.Deps{Workspace: ws, Chroot: executor, Entry: entry}
			registry := buildRegistry(deps)
			runner := pipeline.NewRunner(registry, store, entry)

			var pipelineErr error
			if resume {
				pipelineErr = runner.Resume(ctx, plan)
			} else {
				pipelineErr = runner.Run(ctx, plan)
			}

			if pipelineErr != nil {
				writeSupportBundle(ws, store, plan, entry)
				return pipelineErr
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "zforge.yaml", "path to the build specification")
	cmd.Flags().StringArrayVar(&overlayPaths, "overlay", nil, "hardware overlay YAML file(s), applied in order")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the first incomplete module")
	cmd.Flags().BoolVar(&clean, "clean", false, "remove the workspace before starting")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the specification and print the module order without building")
	return cmd
}

// buildRegistry wires every canonical module onto deps, in the order
// spec.md §2/§3 freezes (internal/buildspec.CanonicalModuleOrder).
func buildRegistry(deps *modules.Deps) *pipeline.Registry {
	return pipeline.NewRegistry(
		&modules.WorkspaceSetup{Deps: deps},
		&modules.Debootstrap{Deps: deps},
		&modules.KernelAcquisition{Deps: deps},
		&modules.ZFSBuild{Deps: deps},
		&modules.DracutConfig{Deps: deps},
		&modules.ProxmoxIntegration{Deps: deps},
		&modules.BootloaderSetup{Deps: deps},
		&modules.LiveEnvironment{Deps: deps},
		&modules.CalamaresIntegration{Deps: deps},
		&modules.SecurityHardening{Deps: deps},
		&modules.ISOGeneration{Deps: deps},
	)
}

// writeSupportBundle is best-effort: a failure building the bundle is
// logged but never replaces the pipeline's own error.
func writeSupportBundle(ws *workspace.Workspace, store *checkpoint.Store, plan *buildspec.BuildPlan, entry *log.Entry) {
	planYAML, err := yaml.Marshal(plan)
	if err != nil {
		entry.WithError(err).Warn("support bundle: failed to render build plan")
		planYAML = []byte("<failed to render build plan>\n")
	}

	bundle := &archiveutil.Bundle{
		Includes: []string{ws.StateDir},
		Extra:    map[string][]byte{"build-plan.yaml": planYAML},
	}
	dest := filepath.Join(ws.Root, "support-bundle.tar.gz")
	if err := bundle.Write(dest); err != nil {
		entry.WithError(err).Warn("support bundle: failed to write")
		return
	}
	entry.WithField("bundle", dest).Info("support bundle written for inspection")
}

func installSignalHandler(cancel context.CancelFunc, entry *log.Entry) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Warn("received cancellation signal, stopping after current subprocess")
		cancel()
	}()
}

func inspectCheckpointCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect-checkpoint",
		Short: "Print the checkpoint status of every pipeline module",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir := filepath.Join(workspaceDir, "state")
			store, err := checkpoint.Open(stateDir)
			if err != nil {
				return fmt.Errorf("opening checkpoint store: %w", err)
			}
			checkpoints := store.All(buildspec.CanonicalModuleOrder)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(checkpoints)
			}

			for _, cp := range checkpoints {
				line := fmt.Sprintf("%-24s %-10s %s", cp.Module, cp.Status, cp.CompletedAt.Format(time.RFC3339))
				if cp.Error != "" {
					line += "  error=" + cp.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON instead of a table")
	return cmd
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the workspace directory entirely",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := setupLogging()
			if err := os.RemoveAll(workspaceDir); err != nil {
				return fmt.Errorf("removing workspace %s: %w", workspaceDir, err)
			}
			entry.WithField("workspace", workspaceDir).Info("workspace removed")
			return nil
		},
	}
}

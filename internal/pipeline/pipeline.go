// Package pipeline implements the Module Registry & Pipeline Runner
// (spec.md §4.4): it walks the BuildPlan's declared module order,
// invoking each enabled module's Execute with its last resume payload
// and persisting the outcome to the Checkpoint Store. The Module
// interface generalizes gangplank's newer Stage abstraction
// (gangplank/internal/spec/stages.go) from "one pod runs one stage's
// scripts" to "one in-process module mutates the workspace."
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/checkpoint"
)

// Module is one pipeline stage. Execute receives the raw resume
// payload this module recorded on its last successful run (nil on a
// first run), and returns the new resume payload to persist alongside
// a success checkpoint.
type Module interface {
	Name() string
	Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error)
}

// Registry maps module names to their implementations.
type Registry struct {
	modules map[string]Module
}

// NewRegistry builds a Registry from a list of modules, keyed by
// Name(). Registering the same name twice is a programming error and
// panics immediately rather than silently shadowing.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module, len(modules))}
	for _, m := range modules {
		if _, exists := r.modules[m.Name()]; exists {
			panic(fmt.Sprintf("pipeline: module %q registered more than once", m.Name()))
		}
		r.modules[m.Name()] = m
	}
	return r
}

func (r *Registry) lookup(name string) (Module, error) {
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("pipeline: no module registered for %q", name)
	}
	return m, nil
}

// Runner iterates a BuildPlan's module list in order, respecting
// enable flags, with no parallelism across modules — a module
// observes exactly the workspace its predecessors left behind.
type Runner struct {
	registry *Registry
	store    *checkpoint.Store
	entry    *log.Entry
}

// NewRunner builds a Runner against registry and store.
func NewRunner(registry *Registry, store *checkpoint.Store, entry *log.Entry) *Runner {
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	return &Runner{registry: registry, store: store, entry: entry}
}

// Run executes every enabled module in plan.Modules order, starting
// from the beginning, until completion or the first error.
func (r *Runner) Run(ctx context.Context, plan *buildspec.BuildPlan) error {
	return r.run(ctx, plan, 0)
}

// Resume executes starting from the first module whose checkpoint is
// not StatusSuccess, per spec.md §4.4's "advance to the first
// non-success module" resume contract. Modules before that point are
// neither re-run nor re-checkpointed.
func (r *Runner) Resume(ctx context.Context, plan *buildspec.BuildPlan) error {
	names := make([]string, len(plan.Modules))
	for i, m := range plan.Modules {
		names[i] = m.Name
	}
	start := r.store.FirstIncomplete(names)
	return r.run(ctx, plan, start)
}

func (r *Runner) run(ctx context.Context, plan *buildspec.BuildPlan, start int) error {
	for i := start; i < len(plan.Modules); i++ {
		entry := plan.Modules[i]
		moduleEntry := r.entry.WithField("module", entry.Name)

		if !entry.Enabled {
			moduleEntry.Info("module disabled, skipping")
			if err := r.store.RecordSkipped(entry.Name); err != nil {
				return fmt.Errorf("recording skip checkpoint for %s: %w", entry.Name, err)
			}
			continue
		}

		mod, err := r.registry.lookup(entry.Name)
		if err != nil {
			return err
		}

		var resumeData json.RawMessage
		if cp, ok := r.store.Get(entry.Name); ok {
			resumeData = cp.ResumeData
		}

		moduleEntry.Info("module starting")
		newResumeData, execErr := mod.Execute(ctx, plan, resumeData)
		if execErr != nil {
			moduleEntry.WithError(execErr).Error("module failed")
			if cpErr := r.store.RecordError(entry.Name, execErr); cpErr != nil {
				moduleEntry.WithError(cpErr).Error("failed to record error checkpoint")
			}
			return fmt.Errorf("module %s: %w", entry.Name, execErr)
		}

		if err := r.store.RecordSuccess(entry.Name, newResumeData); err != nil {
			return fmt.Errorf("recording success checkpoint for %s: %w", entry.Name, err)
		}
		moduleEntry.Info("module completed")
	}
	return nil
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/Z-FORGE/internal/buildspec"
	"github.com/SWORDIntel/Z-FORGE/internal/checkpoint"
)

type fakeModule struct {
	name    string
	calls   *[]string
	failErr error
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Execute(ctx context.Context, plan *buildspec.BuildPlan, resumeData json.RawMessage) (json.RawMessage, error) {
	*f.calls = append(*f.calls, f.name)
	if f.failErr != nil {
		return nil, f.failErr
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func planWithModules(names ...string) *buildspec.BuildPlan {
	entries := make([]buildspec.ModuleEntry, len(names))
	for i, n := range names {
		entries[i] = buildspec.ModuleEntry{Name: n, Enabled: true}
	}
	return &buildspec.BuildPlan{Modules: entries}
}

func TestRunExecutesModulesInOrder(t *testing.T) {
	var calls []string
	reg := NewRegistry(
		&fakeModule{name: "WorkspaceSetup", calls: &calls},
		&fakeModule{name: "Debootstrap", calls: &calls},
	)
	store, err := checkpoint.Open(t.TempDir())
	require.NoError(t, err)

	runner := NewRunner(reg, store, nil)
	plan := planWithModules("WorkspaceSetup", "Debootstrap")
	require.NoError(t, runner.Run(context.Background(), plan))

	assert.Equal(t, []string{"WorkspaceSetup", "Debootstrap"}, calls)
	cp, ok := store.Get("Debootstrap")
	require.True(t, ok)
	assert.Equal(t, checkpoint.StatusSuccess, cp.Status)
}

func TestRunStopsAtFirstError(t *testing.T) {
	var calls []string
	reg := NewRegistry(
		&fakeModule{name: "WorkspaceSetup", calls: &calls},
		&fakeModule{name: "Debootstrap", calls: &calls, failErr: errors.New("debootstrap exit 1")},
		&fakeModule{name: "KernelAcquisition", calls: &calls},
	)
	store, err := checkpoint.Open(t.TempDir())
	require.NoError(t, err)

	runner := NewRunner(reg, store, nil)
	plan := planWithModules("WorkspaceSetup", "Debootstrap", "KernelAcquisition")
	err = runner.Run(context.Background(), plan)
	require.Error(t, err)

	assert.Equal(t, []string{"WorkspaceSetup", "Debootstrap"}, calls)
	cp, ok := store.Get("Debootstrap")
	require.True(t, ok)
	assert.Equal(t, checkpoint.StatusError, cp.Status)
}

func TestRunSkipsDisabledModules(t *testing.T) {
	var calls []string
	reg := NewRegistry(&fakeModule{name: "SecurityHardening", calls: &calls})
	store, err := checkpoint.Open(t.TempDir())
	require.NoError(t, err)

	runner := NewRunner(reg, store, nil)
	plan := &buildspec.BuildPlan{Modules: []buildspec.ModuleEntry{{Name: "SecurityHardening", Enabled: false}}}
	require.NoError(t, runner.Run(context.Background(), plan))

	assert.Empty(t, calls)
	cp, ok := store.Get("SecurityHardening")
	require.True(t, ok)
	assert.Equal(t, checkpoint.StatusSkipped, cp.Status)
}

func TestResumeAdvancesPastCompletedModules(t *testing.T) {
	var calls []string
	reg := NewRegistry(
		&fakeModule{name: "WorkspaceSetup", calls: &calls},
		&fakeModule{name: "Debootstrap", calls: &calls},
	)
	store, err := checkpoint.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.RecordSuccess("WorkspaceSetup", nil))

	runner := NewRunner(reg, store, nil)
	plan := planWithModules("WorkspaceSetup", "Debootstrap")
	require.NoError(t, runner.Resume(context.Background(), plan))

	assert.Equal(t, []string{"Debootstrap"}, calls)
}

func TestNewRegistryPanicsOnDuplicateModuleName(t *testing.T) {
	var calls []string
	assert.Panics(t, func() {
		NewRegistry(
			&fakeModule{name: "Debootstrap", calls: &calls},
			&fakeModule{name: "Debootstrap", calls: &calls},
		)
	})
}

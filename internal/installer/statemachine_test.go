package installer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineNewPoolPath(t *testing.T) {
	sm := NewStateMachine()
	assert.Equal(t, StateModeSelect, sm.Current())

	require.NoError(t, sm.Advance(StateDisksSelected))
	assert.Equal(t, ModeNewPool, sm.Mode())
	require.NoError(t, sm.Advance(StateRaidSelected))
	require.NoError(t, sm.Advance(StatePropertiesSet))
	require.NoError(t, sm.Advance(StateEncryptionSet))
	require.NoError(t, sm.Advance(StateConfirmed))
	assert.Equal(t, StateConfirmed, sm.Current())
}

func TestStateMachineExistingPoolPathSkipsProperties(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.Advance(StatePoolSelected))
	assert.Equal(t, ModeExistingPool, sm.Mode())
	require.NoError(t, sm.Advance(StateInstallModeSelected))
	require.NoError(t, sm.Advance(StateConfirmed))
	assert.Equal(t, StateConfirmed, sm.Current())
}

func TestStateMachineRejectsIllegalTransition(t *testing.T) {
	sm := NewStateMachine()
	err := sm.Advance(StateConfirmed)
	assert.Error(t, err)
}

func TestStateMachineBackFromConfirmedReopensInputs(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.Advance(StateDisksSelected))
	require.NoError(t, sm.Advance(StateRaidSelected))
	require.NoError(t, sm.Advance(StatePropertiesSet))
	require.NoError(t, sm.Advance(StateConfirmed))

	require.NoError(t, sm.Back())
	assert.Equal(t, StatePropertiesSet, sm.Current())
}

func TestStateMachineBackWithNoHistoryErrors(t *testing.T) {
	sm := NewStateMachine()
	err := sm.Back()
	assert.Error(t, err)
}

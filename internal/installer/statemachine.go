package installer

import "fmt"

// PoolCreationState is a state in the installer UI's pool-creation
// mode state machine (spec.md §4.8).
type PoolCreationState string

const (
	StateModeSelect           PoolCreationState = "mode_select"
	StateDisksSelected        PoolCreationState = "disks_selected"
	StateRaidSelected         PoolCreationState = "raid_selected"
	StatePropertiesSet        PoolCreationState = "properties_set"
	StateEncryptionSet        PoolCreationState = "encryption_set"
	StatePoolSelected         PoolCreationState = "pool_selected"
	StateInstallModeSelected  PoolCreationState = "install_mode_selected"
	StateConfirmed            PoolCreationState = "confirmed"
)

// forwardTransitions enumerates every state's legal forward moves, for
// the new_pool branch (disks -> raid -> properties -> (encryption)? ->
// confirmed) and the existing_pool branch (pool -> install_mode ->
// (properties)? -> confirmed), per spec.md §4.8.
var forwardTransitions = map[PoolCreationState][]PoolCreationState{
	StateModeSelect:          {StateDisksSelected, StatePoolSelected},
	StateDisksSelected:       {StateRaidSelected},
	StateRaidSelected:        {StatePropertiesSet},
	StatePropertiesSet:       {StateEncryptionSet, StateConfirmed},
	StateEncryptionSet:       {StateConfirmed},
	StatePoolSelected:        {StateInstallModeSelected},
	StateInstallModeSelected: {StatePropertiesSet, StateConfirmed},
}

// StateMachine tracks the current pool-creation UI state and the
// operation mode chosen at StateModeSelect, which determines which of
// the two forward paths above is legal.
type StateMachine struct {
	current PoolCreationState
	history []PoolCreationState
	mode    OperationMode
}

// NewStateMachine starts a state machine at mode_select.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateModeSelect}
}

// Current returns the active state.
func (sm *StateMachine) Current() PoolCreationState { return sm.current }

// Advance moves forward to next, validating it against the legal
// transition table and recording history for Back. Selecting
// disks_selected or pool_selected from mode_select also fixes the
// operation mode for the rest of the flow.
func (sm *StateMachine) Advance(next PoolCreationState) error {
	legal := forwardTransitions[sm.current]
	ok := false
	for _, l := range legal {
		if l == next {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("installer: illegal transition %s -> %s", sm.current, next)
	}

	if sm.current == StateModeSelect {
		if next == StateDisksSelected {
			sm.mode = ModeNewPool
		} else {
			sm.mode = ModeExistingPool
		}
	}

	sm.history = append(sm.history, sm.current)
	sm.current = next
	return nil
}

// Back returns to the previous state. From confirmed, back reopens
// inputs without discarding any globalstorage already written — the
// caller's GlobalStorage value is untouched by Back, since this type
// only tracks UI position, not the underlying data (spec.md §4.8:
// "from confirmed back transitions reopen inputs without data loss").
func (sm *StateMachine) Back() error {
	if len(sm.history) == 0 {
		return fmt.Errorf("installer: no previous state to return to")
	}
	sm.current = sm.history[len(sm.history)-1]
	sm.history = sm.history[:len(sm.history)-1]
	return nil
}

// Mode returns the operation mode fixed when the state machine left
// mode_select. It is the zero value until then.
func (sm *StateMachine) Mode() OperationMode { return sm.mode }

// Package status is the VM record state machine. The orchestrator moves a
// record between states only along the transitions defined here; the store
// enforces them atomically with a compare-and-swap on the state column.
package status

import (
	"errors"
	"fmt"
	"slices"

	"github.com/jbweber/hearth/api/v1alpha1"
)

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// Operation is a lifecycle operation that holds a record while it runs.
type Operation string

const (
	OpStart     Operation = "start"
	OpStop      Operation = "stop"
	OpSnapshot  Operation = "snapshot"
	OpTerminate Operation = "terminate"
)

var transitions = map[v1alpha1.VMState][]v1alpha1.VMState{
	v1alpha1.VMStateBuilding: {
		v1alpha1.VMStateAvailable,
		v1alpha1.VMStateFailed,
	},
	v1alpha1.VMStateAvailable: {
		v1alpha1.VMStateStarting,
		v1alpha1.VMStateStopping,
		v1alpha1.VMStateSnapshotting,
		v1alpha1.VMStateTerminating,
	},
	v1alpha1.VMStateStarting:     {v1alpha1.VMStateAvailable},
	v1alpha1.VMStateStopping:     {v1alpha1.VMStateAvailable},
	v1alpha1.VMStateSnapshotting: {v1alpha1.VMStateAvailable},
	v1alpha1.VMStateFailed:       {v1alpha1.VMStateTerminating},
	v1alpha1.VMStateTerminating:  {},
}

// CanTransition reports whether from -> to is a normal transition. Forced
// terminates are covered by TerminableStates instead.
func CanTransition(from, to v1alpha1.VMState) bool {
	return slices.Contains(transitions[from], to)
}

// Transition moves vm to state to, leaving it unchanged on error.
func Transition(vm *v1alpha1.VirtualMachine, to v1alpha1.VMState) error {
	if !CanTransition(vm.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, vm.State, to)
	}
	vm.State = to
	return nil
}

// TransitionToAvailable marks a finished build.
func TransitionToAvailable(vm *v1alpha1.VirtualMachine) error {
	if vm.State != v1alpha1.VMStateBuilding {
		return fmt.Errorf("%w: cannot become %s from %s", ErrInvalidTransition, v1alpha1.VMStateAvailable, vm.State)
	}
	vm.State = v1alpha1.VMStateAvailable
	return nil
}

// TransitionToFailed marks a build that could not be completed. Only a
// record still BUILDING can fail.
func TransitionToFailed(vm *v1alpha1.VirtualMachine) error {
	if vm.State != v1alpha1.VMStateBuilding {
		return fmt.Errorf("%w: cannot become %s from %s", ErrInvalidTransition, v1alpha1.VMStateFailed, vm.State)
	}
	vm.State = v1alpha1.VMStateFailed
	return nil
}

// AcceptsLifecycleOps reports whether start, stop and snapshot are accepted.
func AcceptsLifecycleOps(state v1alpha1.VMState) bool {
	return state == v1alpha1.VMStateAvailable
}

// IsTransient reports whether the state is only held while an operation runs.
func IsTransient(state v1alpha1.VMState) bool {
	switch state {
	case v1alpha1.VMStateBuilding, v1alpha1.VMStateStarting, v1alpha1.VMStateStopping,
		v1alpha1.VMStateSnapshotting, v1alpha1.VMStateTerminating:
		return true
	}
	return false
}

// Gate returns the states an operation may start from and the state it holds
// the record in while it runs. Operations other than terminate release the
// record back to AVAILABLE.
func Gate(op Operation, force bool) (from []v1alpha1.VMState, hold v1alpha1.VMState, err error) {
	switch op {
	case OpStart:
		return []v1alpha1.VMState{v1alpha1.VMStateAvailable}, v1alpha1.VMStateStarting, nil
	case OpStop:
		return []v1alpha1.VMState{v1alpha1.VMStateAvailable}, v1alpha1.VMStateStopping, nil
	case OpSnapshot:
		return []v1alpha1.VMState{v1alpha1.VMStateAvailable}, v1alpha1.VMStateSnapshotting, nil
	case OpTerminate:
		return TerminableStates(force), v1alpha1.VMStateTerminating, nil
	}
	return nil, "", fmt.Errorf("unknown operation %q", op)
}

// TerminableStates returns the states terminate accepts. A forced terminate
// also takes records stuck in a transient state.
func TerminableStates(force bool) []v1alpha1.VMState {
	states := []v1alpha1.VMState{v1alpha1.VMStateAvailable, v1alpha1.VMStateFailed}
	if force {
		states = append(states,
			v1alpha1.VMStateBuilding,
			v1alpha1.VMStateStarting,
			v1alpha1.VMStateStopping,
			v1alpha1.VMStateSnapshotting,
			v1alpha1.VMStateTerminating,
		)
	}
	return states
}

// SPDX-License-Identifier: MIT

// Package registry provides the module lifecycle contract and the process
// registry that drives every component through it.
package registry

import "fmt"

// State is a module lifecycle state.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateInitialized
	StateActivating
	StateActive
	StateDeactivating
	StateDeactivated
	StateDestroying
	StateDestroyed
	// StateErrored is terminal; no transition leaves it.
	StateErrored
)

var stateNames = map[State]string{
	StateCreated:      "created",
	StateInitializing: "initializing",
	StateInitialized:  "initialized",
	StateActivating:   "activating",
	StateActive:       "active",
	StateDeactivating: "deactivating",
	StateDeactivated:  "deactivated",
	StateDestroying:   "destroying",
	StateDestroyed:    "destroyed",
	StateErrored:      "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText makes states render as their names in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TransitionError reports a lifecycle method invoked in a state that does
// not permit it. The module's state is left unchanged.
type TransitionError struct {
	Module string
	From   State
	Op     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("module %s: cannot %s from state %s", e.Module, e.Op, e.From)
}

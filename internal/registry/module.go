// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"sync"
)

// Module is the uniform lifecycle contract every component implements.
// Implementations guard each method with the Base transition helpers so an
// out-of-order call fails with a TransitionError without mutating state.
type Module interface {
	Initialize(ctx context.Context) error
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Destroy(ctx context.Context) error
	Status() Status
}

// Status is a synchronous snapshot of a module's lifecycle position.
type Status struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	LastError string `json:"lastError,omitempty"`
}

// Base carries the guarded state machine. Embed it by value and drive it
// with the Begin/Complete pairs from the lifecycle methods.
type Base struct {
	name string

	mu      sync.Mutex
	state   State
	lastErr error
}

// NewBase creates a Base in StateCreated.
func NewBase(name string) Base {
	return Base{name: name, state: StateCreated}
}

// Name returns the module name.
func (b *Base) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns the snapshot served by Module.Status.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{Name: b.name, State: b.state}
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	return st
}

// Fail moves the module to the terminal error state and records the cause.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateErrored
	b.lastErr = err
}

func (b *Base) begin(op string, to State, from ...State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range from {
		if b.state == f {
			b.state = to
			return nil
		}
	}
	return &TransitionError{Module: b.name, From: b.state, Op: op}
}

func (b *Base) complete(to State) {
	b.mu.Lock()
	b.state = to
	b.mu.Unlock()
}

// BeginInitialize guards Initialize; valid only from StateCreated.
func (b *Base) BeginInitialize() error {
	return b.begin("initialize", StateInitializing, StateCreated)
}

// CompleteInitialize marks initialization done.
func (b *Base) CompleteInitialize() { b.complete(StateInitialized) }

// BeginActivate guards Activate; valid from StateInitialized and, for
// modules that support restart, StateDeactivated.
func (b *Base) BeginActivate() error {
	return b.begin("activate", StateActivating, StateInitialized, StateDeactivated)
}

// CompleteActivate marks activation done.
func (b *Base) CompleteActivate() { b.complete(StateActive) }

// BeginDeactivate guards Deactivate; valid only from StateActive.
func (b *Base) BeginDeactivate() error {
	return b.begin("deactivate", StateDeactivating, StateActive)
}

// CompleteDeactivate marks deactivation done.
func (b *Base) CompleteDeactivate() { b.complete(StateDeactivated) }

// BeginDestroy guards Destroy; modules that never initialized or activated
// can still be destroyed.
func (b *Base) BeginDestroy() error {
	return b.begin("destroy", StateDestroying, StateDeactivated, StateInitialized, StateCreated)
}

// CompleteDestroy marks the module destroyed.
func (b *Base) CompleteDestroy() { b.complete(StateDestroyed) }

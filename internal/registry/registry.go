// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamfan/streamfan/internal/log"
)

// Factory constructs a module instance. It is invoked at most once per
// registration for singleton entries.
type Factory func() (Module, error)

// Options declares a registration's dependency edges and exported
// interface names.
type Options struct {
	// Deps are symbolic names this module consumes. Each must be provided
	// by another registration's name or exports before ActivateAll.
	Deps []string
	// Exports are symbolic interface names this module provides. Several
	// modules may export the same name.
	Exports []string
	// Transient entries produce a fresh instance per Resolve call. The
	// default is singleton.
	Transient bool
}

type entry struct {
	name     string
	factory  Factory
	opts     Options
	instance Module
}

// Registry owns module construction order and drives lifecycle phases.
// Lifecycle methods run sequentially; no two modules are ever activated
// concurrently.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	ordered []*entry
	// resolveCache memoizes query strings (names or exports) to instances.
	// Any new registration clears it.
	resolveCache map[string]Module
	logger       zerolog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries:      make(map[string]*entry),
		resolveCache: make(map[string]Module),
		logger:       log.WithComponent("registry"),
	}
}

// Register adds a module under a unique name. Registering an existing name
// fails; registration order defines lifecycle order.
func (r *Registry) Register(name string, factory Factory, opts Options) error {
	if name == "" {
		return errors.New("registry: module name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("registry: module %s has nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("registry: module %s already registered", name)
	}
	e := &entry{name: name, factory: factory, opts: opts}
	r.entries[name] = e
	r.ordered = append(r.ordered, e)
	// A new name or exporter may change what an earlier query would find.
	r.resolveCache = make(map[string]Module)

	r.logger.Debug().
		Str(log.FieldEvent, "registry.register").
		Str("module", name).
		Strs("exports", opts.Exports).
		Strs("deps", opts.Deps).
		Msg("module registered")
	return nil
}

// Resolve returns the instance for a module name or, failing that, the
// first registrant exporting the given interface name. Results are cached
// until the next registration.
func (r *Registry) Resolve(nameOrExport string) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(nameOrExport)
}

func (r *Registry) resolveLocked(nameOrExport string) (Module, error) {
	if m, ok := r.resolveCache[nameOrExport]; ok {
		return m, nil
	}

	e, ok := r.entries[nameOrExport]
	if !ok {
		for _, cand := range r.ordered {
			if exportsName(cand, nameOrExport) {
				e = cand
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("registry: no module or export named %s", nameOrExport)
	}

	m, err := r.instanceLocked(e)
	if err != nil {
		return nil, err
	}
	if !e.opts.Transient {
		r.resolveCache[nameOrExport] = m
	}
	return m, nil
}

// ResolveAll returns every module exporting the given interface name, in
// registration order.
func (r *Registry) ResolveAll(export string) ([]Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Module
	for _, e := range r.ordered {
		if !exportsName(e, export) {
			continue
		}
		m, err := r.instanceLocked(e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("registry: no module exports %s", export)
	}
	return out, nil
}

func (r *Registry) instanceLocked(e *entry) (Module, error) {
	if e.opts.Transient {
		m, err := e.factory()
		if err != nil {
			return nil, fmt.Errorf("registry: construct %s: %w", e.name, err)
		}
		return m, nil
	}
	if e.instance == nil {
		m, err := e.factory()
		if err != nil {
			return nil, fmt.Errorf("registry: construct %s: %w", e.name, err)
		}
		e.instance = m
	}
	return e.instance, nil
}

// InitializeAll constructs and initializes every singleton in registration
// order, aborting on the first failure.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, e := range r.snapshot() {
		m, err := r.instanceOf(e)
		if err != nil {
			return err
		}
		r.logger.Debug().Str(log.FieldEvent, "registry.initialize").Str("module", e.name).Msg("initializing module")
		if err := m.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", e.name, err)
		}
	}
	return nil
}

// ActivateAll validates declared dependencies, then activates every
// singleton in registration order, aborting on the first failure.
func (r *Registry) ActivateAll(ctx context.Context) error {
	if err := r.checkDeps(); err != nil {
		return err
	}
	for _, e := range r.snapshot() {
		m, err := r.instanceOf(e)
		if err != nil {
			return err
		}
		r.logger.Debug().Str(log.FieldEvent, "registry.activate").Str("module", e.name).Msg("activating module")
		if err := m.Activate(ctx); err != nil {
			return fmt.Errorf("activate %s: %w", e.name, err)
		}
	}
	return nil
}

// DeactivateAll deactivates modules in reverse registration order. It is
// best-effort: every active module is attempted and errors are joined.
// Modules that never became active are skipped.
func (r *Registry) DeactivateAll(ctx context.Context) error {
	var errs []error
	ordered := r.snapshot()
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		m := r.builtInstance(e)
		if m == nil {
			continue
		}
		if m.Status().State != StateActive {
			continue
		}
		r.logger.Debug().Str(log.FieldEvent, "registry.deactivate").Str("module", e.name).Msg("deactivating module")
		if err := m.Deactivate(ctx); err != nil {
			r.logger.Error().Err(err).Str("module", e.name).Msg("deactivate failed")
			errs = append(errs, fmt.Errorf("deactivate %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// DestroyAll destroys modules in reverse registration order, best-effort.
func (r *Registry) DestroyAll(ctx context.Context) error {
	var errs []error
	ordered := r.snapshot()
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		m := r.builtInstance(e)
		if m == nil {
			continue
		}
		if st := m.Status().State; st == StateDestroyed || st == StateErrored {
			continue
		}
		r.logger.Debug().Str(log.FieldEvent, "registry.destroy").Str("module", e.name).Msg("destroying module")
		if err := m.Destroy(ctx); err != nil {
			r.logger.Error().Err(err).Str("module", e.name).Msg("destroy failed")
			errs = append(errs, fmt.Errorf("destroy %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// Statuses reports a snapshot per registration, in registration order.
// Unconstructed singletons report StateCreated.
func (r *Registry) Statuses() []Status {
	out := make([]Status, 0, len(r.snapshot()))
	for _, e := range r.snapshot() {
		if m := r.builtInstance(e); m != nil {
			out = append(out, m.Status())
			continue
		}
		out = append(out, Status{Name: e.name, State: StateCreated})
	}
	return out
}

func (r *Registry) snapshot() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) instanceOf(e *entry) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instanceLocked(e)
}

func (r *Registry) builtInstance(e *entry) Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.instance
}

// checkDeps verifies every declared dependency is provided by some
// registration's name or exports.
func (r *Registry) checkDeps() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provided := make(map[string]struct{}, len(r.ordered)*2)
	for _, e := range r.ordered {
		provided[e.name] = struct{}{}
		for _, exp := range e.opts.Exports {
			provided[exp] = struct{}{}
		}
	}

	var errs []error
	for _, e := range r.ordered {
		for _, dep := range e.opts.Deps {
			if _, ok := provided[dep]; !ok {
				errs = append(errs, fmt.Errorf("module %s depends on %s, which nothing provides", e.name, dep))
			}
		}
	}
	return errors.Join(errs...)
}

func exportsName(e *entry, name string) bool {
	for _, exp := range e.opts.Exports {
		if exp == name {
			return true
		}
	}
	return false
}

// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"sync"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/registry"
)

const watchModuleName = "config-watch"

// watchModule adapts the config store's file watcher to the module
// lifecycle so reloads start after every other module is active and stop
// before any of them deactivates.
type watchModule struct {
	registry.Base

	store    *config.Store
	onChange func(*config.Config)

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newWatchModule(store *config.Store, onChange func(*config.Config)) *watchModule {
	return &watchModule{
		Base:     registry.NewBase(watchModuleName),
		store:    store,
		onChange: onChange,
	}
}

func (w *watchModule) Initialize(ctx context.Context) error {
	if err := w.BeginInitialize(); err != nil {
		return err
	}
	w.CompleteInitialize()
	return nil
}

func (w *watchModule) Activate(ctx context.Context) error {
	if err := w.BeginActivate(); err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	w.store.Watch(wctx, w.onChange)
	w.CompleteActivate()
	return nil
}

func (w *watchModule) Deactivate(ctx context.Context) error {
	if err := w.BeginDeactivate(); err != nil {
		return err
	}
	w.stopWatch()
	w.CompleteDeactivate()
	return nil
}

func (w *watchModule) Destroy(ctx context.Context) error {
	if err := w.BeginDestroy(); err != nil {
		return err
	}
	w.stopWatch()
	w.CompleteDestroy()
	return nil
}

func (w *watchModule) stopWatch() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

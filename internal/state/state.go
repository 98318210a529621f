// Package state holds everything a running process owns once the config has
// been turned into components and workers.
package state

import (
	"context"
	"errors"

	"resourcewatch/internal/components"
	"resourcewatch/internal/config"
	"resourcewatch/internal/core"
	"resourcewatch/internal/diagnostics"
)

type State struct {
	Config      *config.Config
	Registry    *components.Registry
	Manager     *core.Manager
	Stats       *diagnostics.StatsListener
	Diagnostics *diagnostics.Dispatcher
}

func NewState(cfg *config.Config, registry *components.Registry, manager *core.Manager, stats *diagnostics.StatsListener, dispatcher *diagnostics.Dispatcher) *State {
	return &State{
		Config:      cfg,
		Registry:    registry,
		Manager:     manager,
		Stats:       stats,
		Diagnostics: dispatcher,
	}
}

// Close flushes diagnostics and closes the components. Workers must have
// stopped already.
func (s *State) Close(ctx context.Context) error {
	var errs []error
	if s.Diagnostics != nil {
		errs = append(errs, s.Diagnostics.Close(ctx))
	}
	if s.Registry != nil {
		errs = append(errs, s.Registry.CloseAll(ctx))
	}
	return errors.Join(errs...)
}

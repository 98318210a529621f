// Package components owns the process-wide pieces shared by every worker:
// storage, platform clients and the feed server. They start in dependency
// order and stop in reverse.
package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"resourcewatch/internal/graph"
)

const (
	StorageComponentName  = "storage"
	PlatformComponentName = "platforms"
	ServerComponentName   = "servers"
)

type IComponent interface {
	Name() string
	Dependencies() []string
	Validate() error
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}

type Registry struct {
	components map[string]IComponent
	registered []string
	order      []string
}

func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]IComponent),
	}
}

func (r *Registry) Register(component IComponent) error {
	name := component.Name()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	r.components[name] = component
	r.registered = append(r.registered, name)
	return nil
}

func (r *Registry) Get(name string) (IComponent, bool) {
	comp, exists := r.components[name]
	return comp, exists
}

// InitializeAll validates every component, then initializes them so each
// comes after its dependencies. On failure the ones already initialized are
// closed again.
func (r *Registry) InitializeAll(ctx context.Context) error {
	nodes := make([]graph.Node, 0, len(r.registered))
	for _, name := range r.registered {
		nodes = append(nodes, &componentNode{comp: r.components[name]})
	}

	order, err := graph.TopologicalSort(nodes)
	if err != nil {
		return err
	}

	for _, name := range order {
		if err := r.components[name].Validate(); err != nil {
			return fmt.Errorf("component %s validation failed: %w", name, err)
		}
	}

	for _, name := range order {
		if err := r.components[name].Initialize(ctx); err != nil {
			closeErr := r.CloseAll(ctx)
			return errors.Join(fmt.Errorf("component %s initialization failed: %w", name, err), closeErr)
		}
		r.order = append(r.order, name)
		slog.Debug("Component initialized", "component", name)
	}
	return nil
}

type componentNode struct {
	comp IComponent
}

func (cn *componentNode) GetName() string {
	return cn.comp.Name()
}

func (cn *componentNode) GetDependencies() []string {
	return cn.comp.Dependencies()
}

// CloseAll closes initialized components in reverse order. Every component is
// closed even when an earlier one fails.
func (r *Registry) CloseAll(ctx context.Context) error {
	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if err := r.components[name].Close(ctx); err != nil {
			slog.Error("Error closing component", "component", name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.order = nil
	return errors.Join(errs...)
}

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"resourcewatch/internal/graph"
	"resourcewatch/internal/types"
)

// Initializer is implemented by stages that need setup before the first resource.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Shutdowner is implemented by stages holding connections or runtimes.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

type stageNode struct {
	processor types.Processor
	dependsOn []string
}

func (n stageNode) GetName() string           { return n.processor.Name() }
func (n stageNode) GetDependencies() []string { return n.dependsOn }

// Chain runs stages in registration order, refined by declared dependencies.
// The first failing stage stops the chain for that resource only.
type Chain struct {
	mu     sync.RWMutex
	nodes  []stageNode
	order  []types.Processor
	sorted bool
	logger *slog.Logger
}

func NewChain(stages ...types.Processor) *Chain {
	c := &Chain{logger: slog.Default()}
	for _, s := range stages {
		c.Add(s)
	}
	return c
}

func (c *Chain) WithLogger(logger *slog.Logger) *Chain {
	c.logger = logger
	return c
}

func (c *Chain) Add(p types.Processor, dependsOn ...string) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(c.nodes, stageNode{processor: p, dependsOn: dependsOn})
	c.sorted = false
	return c
}

func (c *Chain) resolve() ([]types.Processor, error) {
	c.mu.RLock()
	if c.sorted {
		order := c.order
		c.mu.RUnlock()
		return order, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sorted {
		return c.order, nil
	}

	nodes := make([]graph.Node, len(c.nodes))
	byName := make(map[string]types.Processor, len(c.nodes))
	for i, n := range c.nodes {
		nodes[i] = n
		byName[n.GetName()] = n.processor
	}
	if err := graph.ValidateGraph(nodes); err != nil {
		return nil, err
	}
	names, err := graph.TopologicalSort(nodes)
	if err != nil {
		return nil, err
	}

	order := make([]types.Processor, len(names))
	for i, name := range names {
		order[i] = byName[name]
	}
	c.order = order
	c.sorted = true
	return order, nil
}

// Initialize resolves the execution order and initializes stages that need it.
func (c *Chain) Initialize(ctx context.Context) error {
	order, err := c.resolve()
	if err != nil {
		return fmt.Errorf("invalid processor chain: %w", err)
	}

	for _, p := range order {
		if init, ok := p.(Initializer); ok {
			if err := init.Initialize(ctx); err != nil {
				return fmt.Errorf("failed to initialize stage %s: %w", p.Name(), err)
			}
		}
	}
	c.logger.Debug("Processor chain ready", "stages", c.Stages())
	return nil
}

func (c *Chain) Stages() []string {
	order, err := c.resolve()
	if err != nil {
		return nil
	}
	names := make([]string, len(order))
	for i, p := range order {
		names[i] = p.Name()
	}
	return names
}

// Run passes res through every stage. A filtered resource counts as processed.
func (c *Chain) Run(ctx context.Context, res *types.Resource) error {
	order, err := c.resolve()
	if err != nil {
		return types.NonRetryable(fmt.Errorf("invalid processor chain: %w", err))
	}

	for _, p := range order {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.Process(ctx, res)
		if err == nil {
			continue
		}

		if types.IsFiltered(err) {
			c.logger.Debug("Resource filtered", "stage", p.Name(), "resource_id", res.ID(), "reason", err.Error())
			res.SetAttribute("filtered_by", p.Name())
			return nil
		}

		var pe *types.ProcessingError
		if errors.As(err, &pe) && pe.Stage != "" {
			return err
		}
		return &types.ProcessingError{Stage: p.Name(), Retryable: types.IsRetryable(err), Err: err}
	}
	return nil
}

func (c *Chain) Shutdown(ctx context.Context) error {
	order, err := c.resolve()
	if err != nil {
		return nil
	}

	var errs []error
	for _, p := range order {
		if s, ok := p.(Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stage %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

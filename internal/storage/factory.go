package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"resourcewatch/internal/config"
	"resourcewatch/internal/types"
)

type FactoryFunc func(ctx context.Context, cfg config.StorageConfig) (Backend, error)

var (
	factoryMu    sync.RWMutex
	factoryFuncs = map[string]FactoryFunc{}
)

func RegisterFactory(storageType string, fn FactoryFunc) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factoryFuncs[storageType] = fn
}

func New(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "sqlite"
	}

	factoryMu.RLock()
	fn, exists := factoryFuncs[storageType]
	factoryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported storage type: %s (registered: %v)", storageType, Registered())
	}

	backend, err := fn(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", storageType, err)
	}
	return backend, nil
}

func Registered() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factoryFuncs))
	for name := range factoryFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectStates drains a GetMany stream into a slice.
func CollectStates(ctx context.Context, store StateStore, tenant string) ([]types.ResourceState, error) {
	states, errs := store.GetMany(ctx, tenant)
	var out []types.ResourceState
	for states != nil || errs != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case s, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			out = append(out, s)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

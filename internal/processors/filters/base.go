// Package filters holds stages that stop a resource without failing it. A
// filtered resource still counts as processed, so it is not retried.
package filters

import (
	"context"
	"log/slog"

	"resourcewatch/internal/types"
)

// FilterFunc returns an empty reason to keep the resource.
type FilterFunc func(res *types.Resource) (reason string)

type FilterProcessor struct {
	name     string
	filterFn FilterFunc
	logger   *slog.Logger
}

func NewFilterProcessor(name string, filterFn FilterFunc) *FilterProcessor {
	return &FilterProcessor{
		name:     name,
		filterFn: filterFn,
		logger:   slog.Default(),
	}
}

func (f *FilterProcessor) Name() string {
	return f.name
}

func (f *FilterProcessor) Process(ctx context.Context, res *types.Resource) error {
	if f.filterFn == nil {
		return nil
	}
	if reason := f.filterFn(res); reason != "" {
		f.logger.Debug("Filter rejected resource", "processor", f.name, "resource_id", res.ID(), "reason", reason)
		return types.NewFilteredError(f.name, res.ID(), reason)
	}
	return nil
}

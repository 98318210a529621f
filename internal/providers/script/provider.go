// Package script lets a Lua script act as a provider. The script defines
//
//	list(config)     -> array of items, each with at least an id
//	fetch(config, id) -> { data = ..., content_type = ..., attributes = {...} }
//
// fetch is optional; without it Fetch serves the item returned by list.
// Scripts can require "http" and "json" and use the html and log globals.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"resourcewatch/internal/cache"
	"resourcewatch/internal/config"
	"resourcewatch/internal/lua"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils/hash"
)

const itemTTL = time.Hour

// reserved keys of a listed item that do not become attributes.
var reserved = map[string]bool{
	"id": true, "fingerprint": true, "modified": true, "data": true, "content_type": true,
}

type Config struct {
	// Source is inline Lua. When empty, Path is loaded from disk.
	Source string
	Path   string
	Loader lua.Loader
	Params map[string]interface{}
	Logger *slog.Logger
}

type Provider struct {
	name    string
	cfg     Config
	logger  *slog.Logger
	runtime *lua.Runtime
	items   *cache.Cache[string, item]
}

type item struct {
	meta    types.ResourceMetadata
	content types.ResourceContent
}

func New(name string, cfg Config) *Provider {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Params == nil {
		cfg.Params = map[string]interface{}{}
	}
	return &Provider{
		name:   name,
		cfg:    cfg,
		logger: cfg.Logger.With("provider", name),
		items:  cache.StringCache[item](cache.CacheConfig{Name: "script:" + name, TTL: itemTTL}),
	}
}

func FromSettings(name string, s config.ScriptSettings, logger *slog.Logger) *Provider {
	return New(name, Config{
		Source: s.Script,
		Path:   s.ScriptPath,
		Params: s.Config,
		Logger: logger,
	})
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Initialize(ctx context.Context) error {
	source := p.cfg.Source
	loader := p.cfg.Loader

	if source == "" {
		if p.cfg.Path == "" {
			return fmt.Errorf("script provider %s: script or script_path is required", p.name)
		}
		if loader == nil {
			loader = lua.NewFilesystemLoader(filepath.Dir(p.cfg.Path))
		}
		var err error
		source, err = loader.Load(filepath.Base(p.cfg.Path))
		if err != nil {
			return err
		}
	}

	p.runtime = lua.NewRuntime(
		lua.WithLoader(lua.WithBuiltins(loader)),
		lua.WithStandardModules(p.logger, nil),
		lua.WithSecureMode(true),
	)

	if err := p.runtime.LoadScript(source); err != nil {
		p.runtime.Close()
		return fmt.Errorf("script provider %s: %w", p.name, err)
	}
	if !p.runtime.HasFunction("list") {
		p.runtime.Close()
		return fmt.Errorf("script provider %s: script does not define list(config)", p.name)
	}

	p.logger.Info("Script provider initializing", "script_path", p.cfg.Path, "has_fetch", p.runtime.HasFunction("fetch"))
	return nil
}

func (p *Provider) List(ctx context.Context, filter types.ListFilter) (<-chan types.ResourceMetadata, <-chan error) {
	out := make(chan types.ResourceMetadata)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		items, err := p.runList(ctx)
		if err != nil {
			errs <- err
			return
		}

		for _, it := range items {
			if filter.Excludes(it.meta) {
				continue
			}
			select {
			case out <- it.meta:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return out, errs
}

func (p *Provider) runList(ctx context.Context) ([]item, error) {
	results, err := p.runtime.ExecuteContext(ctx, "list", p.cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	raw, err := lua.ToGoSlice(results[0])
	if err != nil {
		return nil, fmt.Errorf("list returned an invalid result: %w", err)
	}

	items := make([]item, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, entry := range raw {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			p.logger.Warn("Skipping invalid item", "index", i, "type", fmt.Sprintf("%T", entry))
			continue
		}

		it, err := convertItem(fields)
		if err != nil {
			p.logger.Warn("Skipping invalid item", "index", i, "error", err)
			continue
		}
		if seen[it.meta.ResourceID] {
			continue
		}
		seen[it.meta.ResourceID] = true

		p.items.Set(it.meta.ResourceID, it)
		items = append(items, it)
	}
	return items, nil
}

func (p *Provider) Fetch(ctx context.Context, resourceID string) (*types.ResourceContent, error) {
	if p.runtime.HasFunction("fetch") {
		return p.runFetch(ctx, resourceID)
	}

	it, ok := p.items.Get(resourceID)
	if !ok {
		if _, err := p.runList(ctx); err != nil {
			return nil, err
		}
		if it, ok = p.items.Get(resourceID); !ok {
			return nil, types.NonRetryablef("item %s is no longer listed", resourceID)
		}
	}

	content := it.content
	content.Data = append([]byte(nil), it.content.Data...)
	content.Attributes = make(map[string]string, len(it.content.Attributes))
	for k, v := range it.content.Attributes {
		content.Attributes[k] = v
	}
	return &content, nil
}

func (p *Provider) runFetch(ctx context.Context, resourceID string) (*types.ResourceContent, error) {
	results, err := p.runtime.ExecuteContext(ctx, "fetch", p.cfg.Params, resourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	if len(results) == 0 || results[0] == nil {
		if len(results) > 1 {
			if msg, ok := results[1].(string); ok && msg != "" {
				return nil, fmt.Errorf("fetch %s: %s", resourceID, msg)
			}
		}
		return nil, types.NonRetryablef("fetch returned nothing for %s", resourceID)
	}

	fields, ok := results[0].(map[string]interface{})
	if !ok {
		return nil, types.NonRetryablef("fetch returned %T, expected table", results[0])
	}

	content := &types.ResourceContent{
		ResourceID: resourceID,
		Attributes: lua.ToStringMap(fields["attributes"]),
	}
	if data, ok := lua.ToString(fields["data"]); ok {
		content.Data = []byte(data)
	}
	if ct, ok := fields["content_type"].(string); ok {
		content.ContentType = ct
	}
	if content.Attributes == nil {
		content.Attributes = map[string]string{}
	}
	return content, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	_ = p.items.Close()
	if p.runtime != nil {
		return p.runtime.Close()
	}
	return nil
}

func convertItem(fields map[string]interface{}) (item, error) {
	id, _ := lua.ToString(fields["id"])
	if id == "" {
		return item{}, fmt.Errorf("item has no id")
	}

	modified, err := parseModified(fields["modified"])
	if err != nil {
		return item{}, fmt.Errorf("item %s: %w", id, err)
	}

	fingerprint, _ := lua.ToString(fields["fingerprint"])
	if fingerprint == "" {
		// encoding/json sorts map keys, so equal items hash equally.
		encoded, err := json.Marshal(fields)
		if err != nil {
			return item{}, fmt.Errorf("item %s: %w", id, err)
		}
		fingerprint = hash.Sum(encoded)
	}

	attrs := make(map[string]string)
	for k, v := range fields {
		if reserved[k] {
			continue
		}
		if s, ok := lua.ToString(v); ok {
			attrs[k] = s
		}
	}

	content := types.ResourceContent{ResourceID: id, Attributes: attrs}
	if data, ok := lua.ToString(fields["data"]); ok {
		content.Data = []byte(data)
	}
	if ct, ok := fields["content_type"].(string); ok {
		content.ContentType = ct
	}

	return item{
		meta:    types.ResourceMetadata{ResourceID: id, Fingerprint: fingerprint, Modified: modified},
		content: content,
	}, nil
}

// parseModified accepts RFC 3339 strings and unix seconds.
func parseModified(v interface{}) (time.Time, error) {
	switch m := v.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		return time.Unix(int64(m), 0), nil
	case string:
		if m == "" {
			return time.Time{}, nil
		}
		if secs, err := strconv.ParseInt(m, 10, 64); err == nil {
			return time.Unix(secs, 0), nil
		}
		t, err := time.Parse(time.RFC3339, m)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid modified %q: %w", m, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("invalid modified type %T", v)
	}
}

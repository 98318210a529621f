package processors

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"resourcewatch/internal/lua"
	"resourcewatch/internal/types"
)

// LuaProcessor hands each resource to a script function
//
//	process(resource, state) -> nil | { data, content_type, attributes, state, filter, error, retryable }
//
// state is whatever the script returned for this resource last time it was
// processed successfully. It is kept in the resource's extensions under the
// processor name.
type LuaProcessor struct {
	name    string
	source  string
	path    string
	client  *http.Client
	logger  *slog.Logger
	runtime *lua.Runtime
	codec   types.JSONCodec[map[string]any]
}

func NewLuaProcessor(name, source, path string, client *http.Client, logger *slog.Logger) *LuaProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LuaProcessor{
		name:   name,
		source: source,
		path:   path,
		client: client,
		logger: logger.With("processor", name),
	}
}

func (l *LuaProcessor) Name() string {
	return l.name
}

func (l *LuaProcessor) Initialize(ctx context.Context) error {
	source := l.source
	var loader lua.Loader
	if l.path != "" {
		loader = lua.NewFilesystemLoader(filepath.Dir(l.path))
		if source == "" {
			var err error
			if source, err = loader.Load(filepath.Base(l.path)); err != nil {
				return err
			}
		}
	}
	if source == "" {
		return fmt.Errorf("lua processor %s: script or script_path is required", l.name)
	}

	l.runtime = lua.NewRuntime(
		lua.WithLoader(lua.WithBuiltins(loader)),
		lua.WithStandardModules(l.logger, l.client),
		lua.WithSecureMode(true),
	)
	if err := l.runtime.LoadScript(source); err != nil {
		l.runtime.Close()
		return fmt.Errorf("lua processor %s: %w", l.name, err)
	}
	if !l.runtime.HasFunction("process") {
		l.runtime.Close()
		return fmt.Errorf("lua processor %s: script does not define process(resource, state)", l.name)
	}
	return nil
}

func (l *LuaProcessor) Process(ctx context.Context, res *types.Resource) error {
	if l.runtime == nil {
		return fmt.Errorf("lua processor %s is not initialized", l.name)
	}

	ext, err := l.codec.Decode(res.Extensions)
	if err != nil {
		l.logger.Warn("Discarding unreadable script state", "resource_id", res.ID(), "error", err)
		ext = nil
	}
	if ext == nil {
		ext = map[string]any{}
	}
	state, _ := ext[l.name].(map[string]any)
	if state == nil {
		state = map[string]any{}
	}

	results, err := l.runtime.ExecuteContext(ctx, "process", resourceTable(res), state)
	if err != nil {
		return err
	}
	if len(results) == 0 || results[0] == nil {
		return nil
	}

	out, ok := results[0].(map[string]interface{})
	if !ok {
		return types.NonRetryablef("process returned %T, expected table", results[0])
	}

	if msg, ok := lua.ToString(out["error"]); ok && msg != "" {
		err := fmt.Errorf("%s", msg)
		if retryable, ok := out["retryable"].(bool); ok && !retryable {
			return types.NonRetryable(err)
		}
		return err
	}
	if reason, ok := lua.ToString(out["filter"]); ok && reason != "" {
		return types.NewFilteredError(l.name, res.ID(), reason)
	}

	if data, ok := lua.ToString(out["data"]); ok {
		res.SetData([]byte(data))
	}
	if ct, ok := out["content_type"].(string); ok && ct != "" {
		if res.Content == nil {
			res.SetData(nil)
		}
		res.Content.ContentType = ct
	}
	for k, v := range lua.ToStringMap(out["attributes"]) {
		res.SetAttribute(k, v)
	}

	if newState, ok := out["state"]; ok {
		ext[l.name] = newState
		encoded, err := l.codec.Encode(ext)
		if err != nil {
			return types.NonRetryable(err)
		}
		res.Extensions = encoded
	}
	return nil
}

func (l *LuaProcessor) Shutdown(ctx context.Context) error {
	if l.runtime != nil {
		return l.runtime.Close()
	}
	return nil
}

func resourceTable(res *types.Resource) map[string]interface{} {
	t := map[string]interface{}{
		"id":           res.ID(),
		"tenant":       res.Tenant,
		"process_type": res.ProcessType.String(),
		"fingerprint":  res.Metadata.Fingerprint,
		"data":         string(res.Data()),
		"attributes":   res.Attributes,
	}
	if !res.Metadata.Modified.IsZero() {
		t["modified"] = res.Metadata.Modified.UTC().Format(time.RFC3339)
	}
	if res.Content != nil {
		t["content_type"] = res.Content.ContentType
	}
	return t
}

package lua

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cjoudrey/gluahttp"
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

// Runtime owns one Lua state. An LState is not safe for concurrent use, so
// every call into it holds mu.
type Runtime struct {
	mu         sync.Mutex
	state      *lua.LState
	secureMode bool
}

type RuntimeOption func(*Runtime)

func WithLoader(loader Loader) RuntimeOption {
	return func(r *Runtime) {
		if loader != nil {
			SetupRequire(r.state, loader)
		}
	}
}

func WithSecureMode(secure bool) RuntimeOption {
	return func(r *Runtime) {
		r.secureMode = secure
	}
}

func WithModules(modules ...Module) RuntimeOption {
	return func(r *Runtime) {
		for _, m := range modules {
			if err := m.Register(r.state); err != nil {
				slog.Error("Failed to register lua module", "module", m.Name(), "error", err)
			}
		}
	}
}

// WithStandardModules preloads http and json and registers the html and log
// globals, the set every script in this repo can rely on.
func WithStandardModules(logger *slog.Logger, client *http.Client) RuntimeOption {
	return func(r *Runtime) {
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		r.state.PreloadModule("http", gluahttp.NewHttpModule(client).Loader)
		luajson.Preload(r.state)
		WithModules(NewHTMLModule(), NewLogModule(logger))(r)
	}
}

func NewRuntime(options ...RuntimeOption) *Runtime {
	runtime := &Runtime{
		state:      lua.NewState(),
		secureMode: true,
	}

	for _, opt := range options {
		opt(runtime)
	}

	if runtime.secureMode {
		runtime.setupSecureState()
	}

	return runtime
}

// State exposes the raw state. Callers must not use it concurrently with Execute.
func (r *Runtime) State() *lua.LState {
	return r.state
}

func (r *Runtime) setupSecureState() {
	r.state.SetGlobal("os", lua.LNil)
	r.state.SetGlobal("io", lua.LNil)
	r.state.SetGlobal("debug", lua.LNil)
	r.state.SetGlobal("dofile", lua.LNil)
	r.state.SetGlobal("loadfile", lua.LNil)
}

func (r *Runtime) LoadScript(scriptContent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.state.DoString(scriptContent); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}
	return nil
}

func (r *Runtime) HasFunction(functionName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.state.GetGlobal(functionName).(*lua.LFunction)
	return ok
}

func (r *Runtime) Execute(functionName string, args ...interface{}) ([]interface{}, error) {
	return r.ExecuteContext(context.Background(), functionName, args...)
}

// ExecuteContext calls a global function. Cancelling ctx interrupts the
// script at its next instruction.
func (r *Runtime) ExecuteContext(ctx context.Context, functionName string, args ...interface{}) ([]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn := r.state.GetGlobal(functionName)
	if fn == lua.LNil {
		return nil, fmt.Errorf("function %s not found", functionName)
	}
	luaFn, ok := fn.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%s is not a function", functionName)
	}

	r.state.SetContext(ctx)
	defer r.state.RemoveContext()
	defer r.state.SetTop(0)

	r.state.Push(luaFn)
	for _, arg := range args {
		r.state.Push(ToLuaValue(r.state, arg))
	}

	if err := r.state.PCall(len(args), lua.MultRet, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("lua execution interrupted: %w", ctxErr)
		}
		return nil, fmt.Errorf("lua execution error: %w", err)
	}

	numResults := r.state.GetTop()
	results := make([]interface{}, numResults)
	for i := 1; i <= numResults; i++ {
		results[i-1] = ToGoValue(r.state.Get(i))
	}
	return results, nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != nil {
		r.state.Close()
		r.state = nil
	}
	return nil
}

package lua

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Loader resolves a script or module identifier to Lua source.
type Loader interface {
	Load(identifier string) (string, error)
}

// FSLoader reads scripts from any fs.FS, typically an embed.FS.
type FSLoader struct {
	fsys     fs.FS
	basePath string
}

func NewFSLoader(fsys fs.FS, basePath string) *FSLoader {
	return &FSLoader{
		fsys:     fsys,
		basePath: basePath,
	}
}

func (l *FSLoader) Load(identifier string) (string, error) {
	p := path.Join(l.basePath, identifier)
	if !strings.HasSuffix(p, ".lua") {
		p += ".lua"
	}

	data, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return "", fmt.Errorf("failed to load embedded script %s: %w", identifier, err)
	}
	return string(data), nil
}

//go:embed lib/*.lua
var builtinFS embed.FS

// Builtin serves the helper modules shipped with the binary.
func Builtin() Loader {
	return NewFSLoader(builtinFS, "lib")
}

// MultiLoader tries each loader in order and returns the first hit.
type MultiLoader []Loader

func (m MultiLoader) Load(identifier string) (string, error) {
	var errs []error
	for _, l := range m {
		source, err := l.Load(identifier)
		if err == nil {
			return source, nil
		}
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}

// WithBuiltins puts loader in front of the builtin modules. A nil loader
// leaves only the builtins.
func WithBuiltins(loader Loader) Loader {
	if loader == nil {
		return Builtin()
	}
	return MultiLoader{loader, Builtin()}
}

type FilesystemLoader struct {
	basePath string
}

func NewFilesystemLoader(basePath string) *FilesystemLoader {
	return &FilesystemLoader{
		basePath: basePath,
	}
}

func (f *FilesystemLoader) Load(identifier string) (string, error) {
	p := identifier
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.basePath, identifier)
	}
	if filepath.Ext(p) == "" {
		p += ".lua"
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to load script %s: %w", identifier, err)
	}
	return string(data), nil
}

// SetupRequire makes require consult package.preload first and fall back to
// the loader, so preloaded modules like http and json keep working.
func SetupRequire(L *lua.LState, loader Loader) {
	originalRequire := L.GetGlobal("require")
	loaded := L.NewTable()

	customRequire := L.NewFunction(func(L *lua.LState) int {
		module := L.CheckString(1)

		if cached := loaded.RawGetString(module); cached != lua.LNil {
			L.Push(cached)
			return 1
		}

		pkg := L.GetField(L.Get(lua.EnvironIndex), "package")
		if preload, ok := L.GetField(pkg, "preload").(*lua.LTable); ok {
			if L.GetField(preload, module) != lua.LNil {
				if fn, ok := originalRequire.(*lua.LFunction); ok {
					L.Push(fn)
					L.Push(lua.LString(module))
					L.Call(1, 1)
					return 1
				}
			}
		}

		source, err := loader.Load(module)
		if err != nil {
			L.RaiseError("failed to require module %s: %s", module, err.Error())
			return 0
		}

		fn, err := L.LoadString(source)
		if err != nil {
			L.RaiseError("failed to load module %s: %s", module, err.Error())
			return 0
		}

		L.Push(fn)
		L.Call(0, 1)
		result := L.Get(-1)
		if result == lua.LNil {
			result = lua.LTrue
			L.Pop(1)
			L.Push(result)
		}
		loaded.RawSetString(module, result)
		return 1
	})

	L.SetGlobal("require", customRequire)
}

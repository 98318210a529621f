package lua

import lua "github.com/yuin/gopher-lua"

// Module installs a global table into a state.
type Module interface {
	Name() string
	Register(L *lua.LState) error
}

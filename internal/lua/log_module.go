package lua

import (
	"context"
	"log/slog"

	lua "github.com/yuin/gopher-lua"
)

// LogModule exposes log.debug/info/warn/error(message, [fields]) to scripts.
type LogModule struct {
	logger *slog.Logger
}

func NewLogModule(logger *slog.Logger) *LogModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogModule{
		logger: logger.With("component", "lua"),
	}
}

func (l *LogModule) Name() string {
	return "log"
}

func (l *LogModule) Register(L *lua.LState) error {
	logTable := L.NewTable()

	L.SetField(logTable, "debug", L.NewFunction(l.logAt(slog.LevelDebug)))
	L.SetField(logTable, "info", L.NewFunction(l.logAt(slog.LevelInfo)))
	L.SetField(logTable, "warn", L.NewFunction(l.logAt(slog.LevelWarn)))
	L.SetField(logTable, "error", L.NewFunction(l.logAt(slog.LevelError)))

	L.SetGlobal("log", logTable)
	return nil
}

func (l *LogModule) logAt(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		message := L.CheckString(1)

		var args []any
		if fields, ok := L.Get(2).(*lua.LTable); ok {
			fields.ForEach(func(k, v lua.LValue) {
				args = append(args, k.String(), ToGoValue(v))
			})
		}

		l.logger.Log(context.Background(), level, message, args...)
		return 0
	}
}

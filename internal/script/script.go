// Package script hosts optional Lua tag-transform hooks. A style script may
// define process_node, process_way and process_relation functions; each
// receives the element's tag table and either returns a replacement table,
// nil to keep the tags unchanged, or false to skip the element entirely.
package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Runtime wraps a Lua interpreter with the tag-transform API loaded.
type Runtime struct {
	l        *lua.LState
	handlers map[string]lua.LValue
}

// NewRuntime creates an empty runtime.
func NewRuntime() *Runtime {
	l := lua.NewState()
	r := &Runtime{l: l, handlers: make(map[string]lua.LValue)}

	api := l.NewTable()
	api.RawSetString("version", lua.LString("1.0.0"))
	l.SetGlobal("osmgraph", api)
	return r
}

// Close releases the interpreter.
func (r *Runtime) Close() { r.l.Close() }

// LoadFile executes a Lua script file and captures its handlers.
func (r *Runtime) LoadFile(path string) error {
	if err := r.l.DoFile(path); err != nil {
		return fmt.Errorf("failed to load script file: %w", err)
	}
	r.captureHandlers()
	return nil
}

// LoadString executes Lua code from a string, mainly for tests.
func (r *Runtime) LoadString(code string) error {
	if err := r.l.DoString(code); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}
	r.captureHandlers()
	return nil
}

func (r *Runtime) captureHandlers() {
	for _, name := range []string{"process_node", "process_way", "process_relation"} {
		if fn := r.l.GetGlobal(name); fn.Type() == lua.LTFunction {
			r.handlers[name] = fn
		}
	}
}

// HasHandler reports whether the script defines a handler for kind.
func (r *Runtime) HasHandler(kind string) bool {
	_, ok := r.handlers["process_"+kind]
	return ok
}

// Transform runs the handler for kind over a tag bag. The returned bool is
// false when the script asked for the whole element to be skipped.
func (r *Runtime) Transform(kind string, id int64, tags map[string]string) (map[string]string, bool, error) {
	fn, ok := r.handlers["process_"+kind]
	if !ok {
		return tags, true, nil
	}

	tagTable := r.l.NewTable()
	for k, v := range tags {
		tagTable.RawSetString(k, lua.LString(v))
	}
	arg := r.l.NewTable()
	arg.RawSetString("id", lua.LNumber(id))
	arg.RawSetString("tags", tagTable)

	if err := r.l.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, arg); err != nil {
		return nil, false, fmt.Errorf("script process_%s failed: %w", kind, err)
	}
	ret := r.l.Get(-1)
	r.l.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return tags, true, nil
	case lua.LBool:
		if !bool(v) {
			return nil, false, nil
		}
		return tags, true, nil
	case *lua.LTable:
		out := make(map[string]string)
		v.ForEach(func(key, value lua.LValue) {
			out[key.String()] = value.String()
		})
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("script process_%s returned %s, want table, nil or false", kind, ret.Type())
	}
}

package compiler

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/oriys/mudkernel/internal/blueprint"
	"github.com/oriys/mudkernel/internal/codeloader"
)

// ScriptCompiler is the alternate backend from spec.md §9(a) option (b):
// "a scripted world layer where blueprints are interpreted from a
// restricted DSL/bytecode by a driver-embedded VM". Blueprints are Lua
// chunks (github.com/yuin/gopher-lua) that may set a global string
// TYPE_NAME (the blueprint id is used when they do not) and define their
// hook/callout methods as global Lua functions named after the method.
//
// Scope: only hook/callout dispatch by method name is supported
// (ScriptObject implements callout.ScriptDispatchable); Lua code cannot
// reach Context methods through reflection the way a Go plugin object
// can, since gopher-lua has no automatic Go<->Lua binding. A production
// deployment would register Context's primitives as Lua-callable
// closures on L before running hooks; that binding is orthogonal to the
// compile step modeled here and is left to the caller that owns the
// *lua.LState (internal/worldstate), which is why Compile returns the
// state alongside the object instead of hiding it.
type ScriptCompiler struct {
	cache map[string]*Compiled
}

// NewScriptCompiler creates an empty script compiler.
func NewScriptCompiler() *ScriptCompiler {
	return &ScriptCompiler{cache: make(map[string]*Compiled)}
}

// ScriptObject wraps one Lua chunk's state as a MudObject.
type ScriptObject struct {
	L        *lua.LState
	typeName string
}

func (o *ScriptObject) TypeName() string { return o.typeName }

// InvokeMethod implements callout.ScriptDispatchable: it looks up a
// global Lua function named method and calls it with ctx (opaque
// userdata) and args converted to Lua primitives. Returns false if no
// such function is defined, matching the "resolution failure" contract
// hook dispatch requires.
func (o *ScriptObject) InvokeMethod(method string, ctx any, args []any) bool {
	fn := o.L.GetGlobal(method)
	if fn.Type() != lua.LTFunction {
		return false
	}

	luaArgs := make([]lua.LValue, 0, len(args)+1)
	luaArgs = append(luaArgs, o.L.NewUserData())
	if ud, ok := luaArgs[0].(*lua.LUserData); ok {
		ud.Value = ctx
	}
	for _, a := range args {
		luaArgs = append(luaArgs, toLua(a))
	}

	o.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, luaArgs...)
	return true
}

func toLua(v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	default:
		return lua.LNil
	}
}

// Compile loads code as a Lua chunk and takes the object's type name from
// the global string TYPE_NAME, falling back to blueprintID when it is unset.
func (c *ScriptCompiler) Compile(ctx context.Context, blueprintID string, code []byte, modTime time.Time) (*Compiled, error) {
	hash := codeloader.ContentHash(code)
	if cached, ok := c.cache[hash]; ok {
		return cached, nil
	}

	ctor := func() blueprint.MudObject {
		L := lua.NewState()
		if err := L.DoString(string(code)); err != nil {
			L.Close()
			return nil
		}
		name := L.GetGlobal("TYPE_NAME")
		typeName, ok := name.(lua.LString)
		if !ok {
			typeName = lua.LString(blueprintID)
		}
		return &ScriptObject{L: L, typeName: string(typeName)}
	}

	sample := ctor()
	if sample == nil {
		return nil, fmt.Errorf("compiler: %s: lua chunk failed to load", blueprintID)
	}

	compiled := &Compiled{
		Sample: sample,
		New:    ctor,
		Scope: blueprint.NewScope(func() {
			if so, ok := sample.(*ScriptObject); ok {
				so.L.Close()
			}
		}),
	}
	c.cache[hash] = compiled
	return compiled, nil
}

package callout

import (
	"reflect"
	"strings"
	"sync"
)

// Invokable is the narrow capability every instance object satisfies:
// mudctx.Context is passed as an untyped any to avoid an import cycle
// between callout and mudctx (mudctx depends on callout to expose
// Context.call_out/every/cancel_call_out).
type Invokable interface{}

// argKind classifies how a resolved method expects to be called, so
// Try­Invoke can use a pre-compiled fast path instead of paying
// reflection costs on every invocation (spec.md §4.5).
type argKind int

const (
	argKindZero       argKind = iota // func()
	argKindContextOnly               // func(Context)
	argKindGeneral                   // func(Context, ...) or func(...) with no Context
)

// methodPlan is the cached resolution for a (type, method name) pair.
type methodPlan struct {
	index        int // index in the type's method set; bound to each target at call time
	kind         argKind
	ctxFirst     bool // true if the first parameter is Context
	numIn        int  // number of parameters the method declares (receiver excluded)
}

// Invoker resolves and invokes hook/callout methods on heterogeneous
// instance objects via reflection, caching the resolution per (type,
// method name) so repeat dispatch avoids reflect.Type.MethodByName
// lookups. Cache entries are nullable (a cached miss stores a nil
// *methodPlan) so repeated misses don't recompute, per spec.md §4.5.
type Invoker struct {
	cache     sync.Map // cacheKey -> *methodPlan (nil = known miss)
	ctxType   reflect.Type
}

type cacheKey struct {
	typ    reflect.Type
	method string
}

// NewInvoker creates a CallOutInvoker. ctxType is the concrete Context
// type world code receives, used to recognize "func(Context)" and
// "func(Context, ...)" signatures.
func NewInvoker(ctxType reflect.Type) *Invoker {
	return &Invoker{ctxType: ctxType}
}

// resolve looks up (and caches) the plan for invoking method on target's
// concrete type.
func (inv *Invoker) resolve(target any, method string) *methodPlan {
	rv := reflect.ValueOf(target)
	key := cacheKey{typ: rv.Type(), method: method}

	if cached, ok := inv.cache.Load(key); ok {
		plan, _ := cached.(*methodPlan)
		return plan
	}

	rt := rv.Type()
	sm, ok := rt.MethodByName(method)
	if !ok {
		// Hook names are the driver's lowercase snake_case vocabulary
		// (on_load, on_reload, heartbeat, on_get, ...), but reflect can
		// only see a Go type's exported methods. A compiled MudObject
		// exposes these as idiomatic PascalCase Go methods instead, so
		// fall back to that spelling before declaring a miss.
		sm, ok = rt.MethodByName(exportedHookName(method))
	}
	if !ok {
		inv.cache.Store(key, (*methodPlan)(nil))
		return nil
	}

	mt := rv.Method(sm.Index).Type()
	numIn := mt.NumIn()
	plan := &methodPlan{index: sm.Index, numIn: numIn}

	switch {
	case numIn == 0:
		plan.kind = argKindZero
	case numIn == 1 && mt.In(0) == inv.ctxType:
		plan.kind = argKindContextOnly
		plan.ctxFirst = true
	default:
		plan.kind = argKindGeneral
		if numIn > 0 && mt.In(0) == inv.ctxType {
			plan.ctxFirst = true
		}
	}

	inv.cache.Store(key, plan)
	return plan
}

// exportedHookName converts a snake_case hook name (spec.md §9's
// vocabulary: on_load, on_reload, heartbeat, on_get, ...) to the
// PascalCase Go method name a compiled MudObject exposes it as, e.g.
// "on_reload" -> "OnReload". Unrecognized input is title-cased the
// same way, so a world-defined custom hook name still resolves.
func exportedHookName(method string) string {
	parts := strings.Split(method, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// ScriptDispatchable is an escape hatch for blueprints compiled by a
// script-backed Compiler (internal/compiler's ScriptCompiler) whose
// methods are not real Go methods reflect can see. A type implementing
// it is tried only after the normal reflect resolution path misses,
// so a native Go object with a real "method_name" method always wins.
type ScriptDispatchable interface {
	InvokeMethod(method string, ctx any, args []any) bool
}

// TryInvoke invokes method on target, passing ctx and callout.Args per
// the resolution rules in spec.md §4.5. Returns false (after calling
// logError, if provided) when the method cannot be resolved; never
// panics on a resolution failure.
func (inv *Invoker) TryInvoke(target any, ctx any, method string, args []any, logError func(error)) bool {
	plan := inv.resolve(target, method)
	if plan == nil {
		if sd, ok := target.(ScriptDispatchable); ok && sd.InvokeMethod(method, ctx, args) {
			return true
		}
		if logError != nil {
			logError(&unresolvedMethodError{method: method})
		}
		return false
	}

	ctxVal := reflect.ValueOf(ctx)
	fn := reflect.ValueOf(target).Method(plan.index)

	switch plan.kind {
	case argKindZero:
		fn.Call(nil)
	case argKindContextOnly:
		fn.Call([]reflect.Value{ctxVal})
	default:
		in := make([]reflect.Value, plan.numIn)
		pos := 0
		if plan.ctxFirst {
			in[0] = ctxVal
			pos = 1
		}
		mt := fn.Type()
		for ; pos < plan.numIn; pos++ {
			argIdx := pos
			if plan.ctxFirst {
				argIdx--
			}
			paramType := mt.In(pos)
			if argIdx < len(args) && args[argIdx] != nil {
				av := reflect.ValueOf(args[argIdx])
				if av.Type().AssignableTo(paramType) {
					in[pos] = av
				} else if av.Type().ConvertibleTo(paramType) {
					in[pos] = av.Convert(paramType)
				} else {
					in[pos] = reflect.Zero(paramType)
				}
			} else {
				in[pos] = reflect.Zero(paramType)
			}
		}
		fn.Call(in)
	}
	return true
}

type unresolvedMethodError struct{ method string }

func (e *unresolvedMethodError) Error() string {
	return "callout: method not found: " + e.method
}

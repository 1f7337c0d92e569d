// Package blueprint models the compiled unit of user-authored world code
// (spec.md §3): a blueprint is compiled once, cloned into many instances,
// and hot-reloaded in place while those instances keep running.
//
// Field-for-field this mirrors the teacher's domain.Function /
// domain.FunctionVersion split (a Function's current deployable code vs.
// the instances/versions running against it), generalized from "one HTTP
// invocation of one version" to "many long-lived clone instances of one
// blueprint, reloaded in place".
package blueprint

import (
	"reflect"
	"sync/atomic"
	"time"
)

// MudObject is the base capability every compiled blueprint's exposed
// type must implement (spec.md §3, §4.1's compile rule).
type MudObject interface {
	// TypeName returns a stable display name for the concrete type,
	// used in stats projections and passed to on_reload as old_type_name.
	TypeName() string
}

// Constructor builds a fresh MudObject instance from a compiled
// blueprint, capturing whatever compiled module state the compiler
// produced.
type Constructor func() MudObject

// Scope is the isolated code-lifetime handle for a blueprint's compiled
// module (spec.md §9's design note on dynamically loaded user code). It
// is refcounted by live instances; when the count returns to zero and
// the blueprint itself is no longer referenced, Release tears down the
// underlying compiled module (closing a plugin handle, freeing a script
// VM chunk, etc. — the driver only needs the refcount contract, so the
// teardown action is injected).
type Scope struct {
	refs     atomic.Int64
	teardown func()
	done     atomic.Bool
}

// NewScope creates a scope whose teardown runs exactly once, the first
// time its refcount returns to zero after having been acquired.
func NewScope(teardown func()) *Scope {
	return &Scope{teardown: teardown}
}

// Acquire increments the scope's refcount, called once per instance
// created against the blueprint owning this scope.
func (s *Scope) Acquire() {
	s.refs.Add(1)
}

// Release decrements the scope's refcount and tears down the underlying
// module the instant it reaches zero. Safe to call multiple times; the
// teardown only ever runs once.
func (s *Scope) Release() {
	if s.refs.Add(-1) > 0 {
		return
	}
	if s.done.CompareAndSwap(false, true) && s.teardown != nil {
		s.teardown()
	}
}

// RefCount reports the current live refcount, for stats/diagnostics.
func (s *Scope) RefCount() int64 {
	return s.refs.Load()
}

// Blueprint is a compiled unit of world code, keyed by blueprint id.
type Blueprint struct {
	ID            string
	ObjectType    reflect.Type
	New           Constructor
	SourceModTime time.Time
	Scope         *Scope

	instanceCount atomic.Int64
	nextClone     atomic.Uint64
}

// NewBlueprint creates a Blueprint wrapping a freshly compiled constructor.
func NewBlueprint(id string, sample MudObject, ctor Constructor, modTime time.Time, scope *Scope) *Blueprint {
	return &Blueprint{
		ID:            id,
		ObjectType:    reflect.TypeOf(sample),
		New:           ctor,
		SourceModTime: modTime,
		Scope:         scope,
	}
}

// NextCloneIndex returns the next monotonic, 6-digit clone suffix for
// this blueprint. Never reused, even after destruct (spec.md §8's clone
// monotonicity property).
func (b *Blueprint) NextCloneIndex() int {
	return int(b.nextClone.Add(1))
}

// IncInstances / DecInstances track the blueprint's live instance count,
// exposed via get_stats.
func (b *Blueprint) IncInstances() { b.instanceCount.Add(1) }
func (b *Blueprint) DecInstances() { b.instanceCount.Add(-1) }
func (b *Blueprint) InstanceCount() int64 { return b.instanceCount.Load() }

// Implements reports whether this blueprint's object type can satisfy
// the capability represented by iface, which must be an interface type,
// e.g. reflect.TypeOf((*Attacker)(nil)).Elem(). load[T]/clone[T] do not
// call it; their TypeMismatch check is a type assertion on the object.
func (b *Blueprint) Implements(iface reflect.Type) bool {
	return b.ObjectType.Implements(iface)
}

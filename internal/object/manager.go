// Package object implements the ObjectManager (spec.md §4.1): compiling
// blueprints, cloning/loading instances, hot-reloading blueprints with
// state preservation, and destructing instances.
//
// Grounded on the teacher's store/functions.go (function CRUD + version
// bookkeeping) combined with domain.Function's versioning fields,
// generalized from "HTTP-invoked function version" to "long-lived clone
// instance bound to a blueprint that can be hot-swapped under it".
package object

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/mudkernel/internal/blueprint"
	"github.com/oriys/mudkernel/internal/callout"
	"github.com/oriys/mudkernel/internal/codeloader"
	"github.com/oriys/mudkernel/internal/combat"
	"github.com/oriys/mudkernel/internal/compiler"
	"github.com/oriys/mudkernel/internal/container"
	"github.com/oriys/mudkernel/internal/equipment"
	"github.com/oriys/mudkernel/internal/heartbeat"
	"github.com/oriys/mudkernel/internal/ident"
	"github.com/oriys/mudkernel/internal/kernerr"
	"github.com/oriys/mudkernel/internal/statestore"
)

// Instance is a runtime object belonging to a blueprint (spec.md §3).
type Instance struct {
	ID        string
	Blueprint *blueprint.Blueprint
	Object    blueprint.MudObject
	State     *statestore.Store
	CreatedAt time.Time
}

// Registries bundles the driver registries Destruct must clean up.
// Passed by reference so object.Manager never owns them — WorldState
// does — keeping the dependency direction one-way (object -> registries,
// never back).
type Registries struct {
	Heartbeats *heartbeat.Scheduler
	Callouts   *callout.Scheduler
	Combat     *combat.Scheduler
	Containers *container.Registry
	Equipment  *equipment.Registry
}

// SafeRun executes fn with whatever fault isolation the caller supplies,
// and is used to call lifecycle hooks (on_load/on_reload/create)
// during clone/load/reload without object importing internal/safeinvoke
// (which itself may want to depend on object-level types for logging
// context). Manager.New's default is a direct, unprotected call; the
// daemon wiring in worldstate overrides it with a panic-recovering
// wrapper that applies no deadline and no circuit breaker.
type SafeRun func(label string, fn func())

// Manager is the ObjectManager: two maps (blueprint id -> Blueprint,
// instance id -> Instance) plus the compile/clone/reload/destruct
// orchestration over them.
type Manager struct {
	loader         codeloader.Loader
	compiler       compiler.Compiler
	invoker        *callout.Invoker
	safeRun        SafeRun
	onError        func(instanceID string, err error)
	contextFactory func(inst *Instance) any

	mu         sync.Mutex
	blueprints map[string]*blueprint.Blueprint
	instances  map[string]*Instance
}

// Config collects Manager's constructor dependencies.
type Config struct {
	Loader   codeloader.Loader
	Compiler compiler.Compiler
	Invoker  *callout.Invoker
	SafeRun  SafeRun // optional; defaults to a direct call
	OnError  func(instanceID string, err error)

	// ContextFactory builds the value passed as the hook argument for
	// on_load/on_reload/create, bound to inst. Optional; when nil, a bare
	// instanceContext carrying only inst is used instead (sufficient for
	// methods that take no Context parameter, but Context-typed hooks will
	// not resolve against it).
	ContextFactory func(inst *Instance) any
}

// New creates an ObjectManager.
func New(cfg Config) *Manager {
	safeRun := cfg.SafeRun
	if safeRun == nil {
		safeRun = func(_ string, fn func()) { fn() }
	}
	return &Manager{
		loader:         cfg.Loader,
		compiler:       cfg.Compiler,
		invoker:        cfg.Invoker,
		safeRun:        safeRun,
		onError:        cfg.OnError,
		contextFactory: cfg.ContextFactory,
		blueprints:     make(map[string]*blueprint.Blueprint),
		instances:      make(map[string]*Instance),
	}
}

// EnsureBlueprint compiles blueprintPath if it is not already cached.
// The cache never retains a failed compile.
func (m *Manager) EnsureBlueprint(ctx context.Context, blueprintPath string) (*blueprint.Blueprint, error) {
	id := ident.Parse(blueprintPath).BlueprintID().String()

	m.mu.Lock()
	if bp, ok := m.blueprints[id]; ok {
		m.mu.Unlock()
		return bp, nil
	}
	m.mu.Unlock()

	code, modTime, err := m.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	compiled, err := m.compiler.Compile(ctx, id, code, modTime)
	if err != nil {
		return nil, err
	}

	bp := blueprint.NewBlueprint(id, compiled.Sample, compiled.New, modTime, compiled.Scope)

	m.mu.Lock()
	m.blueprints[id] = bp
	m.mu.Unlock()
	return bp, nil
}

// Load implements the singleton form of spec.md §4.1: if an instance
// with id already exists, returns it (TypeMismatch if its object does
// not satisfy T); otherwise ensures the blueprint and constructs an
// instance whose id equals the blueprint id.
func Load[T any](ctx context.Context, m *Manager, rawID string) (T, error) {
	var zero T
	id := ident.Parse(rawID).BlueprintID()

	m.mu.Lock()
	if inst, ok := m.instances[id.String()]; ok {
		m.mu.Unlock()
		typed, ok := inst.Object.(T)
		if !ok {
			return zero, fmt.Errorf("%w: %s", kernerr.ErrTypeMismatch, id.String())
		}
		return typed, nil
	}
	m.mu.Unlock()

	bp, err := m.EnsureBlueprint(ctx, id.String())
	if err != nil {
		return zero, err
	}

	inst, err := m.construct(bp, id.String(), statestore.New(), time.Now())
	if err != nil {
		return zero, err
	}
	typed, ok := inst.Object.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", kernerr.ErrTypeMismatch, id.String())
	}
	return typed, nil
}

// Clone implements spec.md §4.1's clone form: always creates a new
// instance at blueprint_id#NNNNNN, NNNNNN the blueprint's next monotonic
// clone counter.
func Clone[T any](ctx context.Context, m *Manager, rawID string) (T, error) {
	var zero T
	bpID := ident.Parse(rawID).BlueprintID()

	bp, err := m.EnsureBlueprint(ctx, bpID.String())
	if err != nil {
		return zero, err
	}

	cloneIdx := bp.NextCloneIndex()
	fullID := ident.New(bpID.String(), cloneIdx).String()

	inst, err := m.construct(bp, fullID, statestore.New(), time.Now())
	if err != nil {
		return zero, err
	}
	typed, ok := inst.Object.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", kernerr.ErrTypeMismatch, fullID)
	}
	return typed, nil
}

// construct builds a new Instance against bp, registers it, and invokes
// on_load (else the legacy create) through SafeRun.
func (m *Manager) construct(bp *blueprint.Blueprint, id string, state *statestore.Store, createdAt time.Time) (*Instance, error) {
	obj := bp.New()
	if obj == nil {
		return nil, fmt.Errorf("%w: %s constructed a nil object", kernerr.ErrNoMudObject, bp.ID)
	}

	inst := &Instance{ID: id, Blueprint: bp, Object: obj, State: state, CreatedAt: createdAt}

	bp.Scope.Acquire()
	bp.IncInstances()

	m.mu.Lock()
	m.instances[id] = inst
	m.mu.Unlock()

	m.invokeCreateHook(inst)
	return inst, nil
}

// invokeCreateHook calls on_load, falling back to the legacy create
// method, through SafeRun so a faulting constructor hook cannot prevent
// the instance from being registered.
func (m *Manager) invokeCreateHook(inst *Instance) {
	ctx := m.hookContext(inst)
	m.safeRun("on_load:"+inst.ID, func() {
		if m.invoker.TryInvoke(inst.Object, ctx, "on_load", nil, nil) {
			return
		}
		m.invoker.TryInvoke(inst.Object, ctx, "create", nil, nil)
	})
}

// hookContext builds the argument passed to a lifecycle hook invocation
// against inst, preferring the real Context factory so on_load/on_reload
// can call Tell/Move/CallOut like any other hook.
func (m *Manager) hookContext(inst *Instance) any {
	if m.contextFactory != nil {
		return m.contextFactory(inst)
	}
	return instanceContext{inst: inst}
}

// instanceContext is a minimal placeholder passed to lifecycle hooks
// invoked directly by the object manager (outside a tick phase); the
// full mudctx.Context used during ticks carries far more (see
// internal/mudctx), but on_load/on_reload only need to know which
// instance they're running against.
type instanceContext struct{ inst *Instance }

// Instance returns the instance a hook invoked through instanceContext is
// running against.
func (c instanceContext) Instance() *Instance { return c.inst }

// Get looks up a live instance by its full id.
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[ident.Parse(id).String()]
	return inst, ok
}

// GetBlueprint looks up a cached blueprint by its blueprint id.
func (m *Manager) GetBlueprint(id string) (*blueprint.Blueprint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bp, ok := m.blueprints[ident.Parse(id).BlueprintID().String()]
	return bp, ok
}

// ReloadBlueprint compiles a new blueprint for id, and for every
// existing instance of it: builds a new object, attaches the SAME
// StateStore, invokes on_reload(ctx, old_type_name) (else on_load, else
// create), rebinds the instance map entry, and re-registers heartbeat if
// the new object declares one. A single instance's rebind failing is
// logged and skipped; a compile failure aborts the whole operation
// leaving the previous blueprint intact.
func (m *Manager) ReloadBlueprint(ctx context.Context, id string, reg Registries, heartbeatInterval func(blueprint.MudObject) (time.Duration, bool)) error {
	bpID := ident.Parse(id).BlueprintID().String()

	code, modTime, err := m.loader.Load(ctx, bpID)
	if err != nil {
		return err
	}
	compiled, err := m.compiler.Compile(ctx, bpID, code, modTime)
	if err != nil {
		return err
	}
	newBP := blueprint.NewBlueprint(bpID, compiled.Sample, compiled.New, modTime, compiled.Scope)

	m.mu.Lock()
	oldBP := m.blueprints[bpID]
	var affected []*Instance
	for iid, inst := range m.instances {
		if inst.Blueprint == oldBP {
			affected = append(affected, m.instances[iid])
		}
	}
	m.mu.Unlock()

	for _, inst := range affected {
		func(inst *Instance) {
			defer func() {
				if r := recover(); r != nil && m.onError != nil {
					m.onError(inst.ID, fmt.Errorf("reload panic: %v", r))
				}
			}()

			oldName := inst.Object.TypeName()
			newObj := newBP.New()
			if newObj == nil {
				if m.onError != nil {
					m.onError(inst.ID, fmt.Errorf("%w: %s", kernerr.ErrNoMudObject, newBP.ID))
				}
				return
			}

			newBP.Scope.Acquire()
			newBP.IncInstances()

			m.mu.Lock()
			inst.Blueprint.DecInstances()
			inst.Blueprint.Scope.Release()
			inst.Object = newObj
			inst.Blueprint = newBP
			m.mu.Unlock()

			ctxv := m.hookContext(inst)
			m.safeRun("on_reload:"+inst.ID, func() {
				if m.invoker.TryInvoke(newObj, ctxv, "on_reload", []any{oldName}, nil) {
					return
				}
				if m.invoker.TryInvoke(newObj, ctxv, "on_load", nil, nil) {
					return
				}
				m.invoker.TryInvoke(newObj, ctxv, "create", nil, nil)
			})

			if heartbeatInterval != nil && reg.Heartbeats != nil {
				if interval, ok := heartbeatInterval(newObj); ok {
					reg.Heartbeats.Register(inst.ID, interval, time.Now())
				}
			}
		}(inst)
	}

	m.mu.Lock()
	m.blueprints[bpID] = newBP
	m.mu.Unlock()
	return nil
}

// Destruct tears down instance id: cancels its pending callouts,
// unregisters its heartbeat, removes it from containment/equipment,
// decrements its blueprint's refcount, and erases it from the instance
// map (spec.md §3, §8's destruct-finalization property).
func (m *Manager) Destruct(id string, reg Registries) error {
	full := ident.Parse(id).String()

	m.mu.Lock()
	inst, ok := m.instances[full]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", kernerr.ErrNotFound, id)
	}
	delete(m.instances, full)
	m.mu.Unlock()

	if reg.Callouts != nil {
		reg.Callouts.CancelAllForTarget(full)
	}
	if reg.Heartbeats != nil {
		reg.Heartbeats.Unregister(full)
	}
	if reg.Combat != nil {
		reg.Combat.EndCombat(full)
	}
	if reg.Containers != nil {
		reg.Containers.Remove(full)
	}
	if reg.Equipment != nil {
		reg.Equipment.RemoveBeing(full)
		reg.Equipment.UnequipItem(full)
	}

	inst.Blueprint.DecInstances()
	inst.Blueprint.Scope.Release()
	return nil
}

// UnloadBlueprint destructs every instance of blueprintID, then releases
// the blueprint itself.
func (m *Manager) UnloadBlueprint(blueprintID string, reg Registries) error {
	bpID := ident.Parse(blueprintID).BlueprintID().String()

	m.mu.Lock()
	bp, ok := m.blueprints[bpID]
	var ids []string
	for iid, inst := range m.instances {
		if inst.Blueprint == bp {
			ids = append(ids, iid)
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", kernerr.ErrNotFound, blueprintID)
	}

	for _, iid := range ids {
		if err := m.Destruct(iid, reg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.blueprints, bpID)
	m.mu.Unlock()
	return nil
}

// Stats is the projection get_stats exposes (spec.md §4.1).
type Stats struct {
	TypeName      string
	BlueprintID   string
	InstanceCount int64     // set for blueprints
	CreatedAt     time.Time // set for instances
	StateKeys     []string  // set for instances
}

// GetStats returns the projection for id, whether it names a blueprint
// or a live instance.
func (m *Manager) GetStats(id string) (Stats, error) {
	norm := ident.Parse(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.instances[norm.String()]; ok {
		return Stats{
			TypeName:    inst.Object.TypeName(),
			BlueprintID: inst.Blueprint.ID,
			CreatedAt:   inst.CreatedAt,
			StateKeys:   inst.State.Keys(),
		}, nil
	}
	if bp, ok := m.blueprints[norm.BlueprintID().String()]; ok {
		return Stats{
			TypeName:      bp.ObjectType.Name(),
			BlueprintID:   bp.ID,
			InstanceCount: bp.InstanceCount(),
		}, nil
	}
	return Stats{}, fmt.Errorf("%w: %s", kernerr.ErrNotFound, id)
}

// Instances returns a snapshot slice of every live instance, for
// export/iteration purposes (spec.md §6.4 export_instances).
func (m *Manager) Instances() []*Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

// RestoreInstance reconstructs an instance during spec.md §6.4 restore:
// ensures the blueprint, then builds an object bound to the given
// pre-populated state store and creation time, invoking on_load (else
// create) exactly as a fresh construct would.
func (m *Manager) RestoreInstance(ctx context.Context, fullID, blueprintID string, state *statestore.Store, createdAt time.Time) (*Instance, error) {
	bp, err := m.EnsureBlueprint(ctx, blueprintID)
	if err != nil {
		return nil, err
	}
	return m.construct(bp, ident.Parse(fullID).String(), state, createdAt)
}

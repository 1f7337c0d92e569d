// Package worldstate wires every driver subsystem (object lifecycle,
// the three schedulers, the relational registries, hook dispatch) into
// the single tick operation spec.md §4.7 describes, and drives that tick
// on a fixed-interval loop grounded on the teacher's workflow.Engine
// ticker/stopCh/wg worker pattern.
package worldstate

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/oriys/mudkernel/internal/asyncqueue"
	"github.com/oriys/mudkernel/internal/blueprint"
	"github.com/oriys/mudkernel/internal/callout"
	"github.com/oriys/mudkernel/internal/circuitbreaker"
	"github.com/oriys/mudkernel/internal/clock"
	"github.com/oriys/mudkernel/internal/codeloader"
	"github.com/oriys/mudkernel/internal/combat"
	"github.com/oriys/mudkernel/internal/compiler"
	"github.com/oriys/mudkernel/internal/container"
	"github.com/oriys/mudkernel/internal/equipment"
	"github.com/oriys/mudkernel/internal/heartbeat"
	"github.com/oriys/mudkernel/internal/kernerr"
	"github.com/oriys/mudkernel/internal/logging"
	"github.com/oriys/mudkernel/internal/messagequeue"
	"github.com/oriys/mudkernel/internal/metrics"
	"github.com/oriys/mudkernel/internal/mudctx"
	"github.com/oriys/mudkernel/internal/object"
	"github.com/oriys/mudkernel/internal/persistence"
	"github.com/oriys/mudkernel/internal/safeinvoke"
	"github.com/oriys/mudkernel/internal/scheduler"
	"github.com/oriys/mudkernel/internal/statestore"
)

// Well-known fire-and-forget hook method names, resolved by reflection
// through the shared CallOutInvoker (spec.md §4.5's resolution rules
// apply uniformly to heartbeats, callouts, and lifecycle hooks alike;
// nothing distinguishes one from another at the dispatch layer).
const (
	hookHeartbeat = "heartbeat"
	hookOnDrop    = "on_drop"
	hookOnGet     = "on_get"
)

var contextType = reflect.TypeOf((*mudctx.Context)(nil))

// Deliverer hands a rendered message line to whatever session/transport
// layer is listening for toID. The driver core has no session layer of
// its own (spec.md's non-goals); callers running a real transport wire
// this in. The zero value drops every message, which is sufficient for
// tests and for the Non-goals-scoped default build.
type Deliverer func(toID, rendered string)

// Command is one externally-sourced instruction the input phase
// dispatches synchronously against a target instance (spec.md §4.7
// phase 4). The session/command-parsing layer that produces these is
// out of scope (spec.md non-goals); WorldState only knows how to run
// one once handed.
type Command struct {
	TargetID string
	Method   string
	Args     []any
}

// Config collects every dependency WorldState needs to construct its
// subsystems.
type Config struct {
	Loader   codeloader.Loader
	Compiler compiler.Compiler
	Clock    clock.Clock

	HookTimeout time.Duration
	Breaker     circuitbreaker.Config
	CronEnabled bool
	IOWorkers   int

	// SnapshotPath, if non-empty, enables a background persistence.Snapshotter
	// that periodically writes the world to disk (and to Backend, if set)
	// every SnapshotInterval (default persistence.DefaultSnapshotInterval),
	// independent of any explicit Save call (SPEC_FULL.md §6.4 NEW).
	SnapshotPath     string
	SnapshotInterval time.Duration
	// Backend optionally mirrors every periodic snapshot into a durable
	// store (statestore.PostgresBackend / statestore.RedisBackend) and is
	// consulted by Restore when the local snapshot file is missing.
	Backend statestore.Backend

	Deliver     Deliverer
	InputDrain  func() []Command
	OnHookFault func(fault *kernerr.HookFault)
}

// TickReport summarizes one Tick call, the basis for the metrics phase
// and the per-tick log line.
type TickReport struct {
	TickID       int64
	DurationMs   int64
	Heartbeats   int
	Callouts     int
	CombatRounds int
	Deaths       int
	MessagesSent int
	Faults       int
	FirstFault   string
}

// WorldState bundles the driver registries and schedulers behind the
// single Tick entry point.
type WorldState struct {
	Objects    *object.Manager
	Heartbeats *heartbeat.Scheduler
	Callouts   *callout.Scheduler
	Combat     *combat.Scheduler
	Containers *container.Registry
	Equipment  *equipment.Registry
	Messages   *messagequeue.Queue
	Cron       *scheduler.Scheduler
	IOPool     *asyncqueue.Pool

	invoker     *callout.Invoker
	safe        *safeinvoke.Invoker
	clock       clock.Clock
	deliver     Deliverer
	input       func() []Command
	backend     statestore.Backend
	snapshotter *persistence.Snapshotter

	faultsMu   sync.Mutex
	faultCount int
	firstFault string

	tickSeq int64
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New wires every subsystem together: the object manager's SafeRun
// closure recovers lifecycle-hook panics (it does not go through the
// SafeInvoker), hook/callout dispatch goes through the SafeInvoker, and
// the sandbox World's
// ResolveObject/DisplayName closures are bound back onto the object
// manager, exactly as spec.md §6.2 requires (sandbox depends on the
// object manager, never the reverse).
func New(cfg Config) (*WorldState, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("worldstate: Loader is required")
	}
	if cfg.Compiler == nil {
		return nil, fmt.Errorf("worldstate: Compiler is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}

	ws := &WorldState{
		Heartbeats: heartbeat.New(),
		Callouts:   callout.New(),
		Combat:     combat.New(),
		Containers: container.New(),
		Equipment:  equipment.New(),
		Messages:   messagequeue.New(),
		clock:      clk,
		deliver:    cfg.Deliver,
		input:      cfg.InputDrain,
	}
	if ws.deliver == nil {
		ws.deliver = func(string, string) {}
	}

	ws.invoker = callout.NewInvoker(contextType)
	onFault := cfg.OnHookFault
	ws.safe = safeinvoke.New(safeinvoke.Config{
		HookTimeout: cfg.HookTimeout,
		Breaker:     cfg.Breaker,
		OnFault: func(fault *kernerr.HookFault) {
			ws.recordFault(fault)
			if onFault != nil {
				onFault(fault)
			}
		},
	})

	ws.Objects = object.New(object.Config{
		Loader:   cfg.Loader,
		Compiler: cfg.Compiler,
		Invoker:  ws.invoker,
		// Lifecycle hooks (on_load/on_reload/create) get panic isolation
		// but skip the per-blueprint circuit breaker: they run once per
		// construct/reload rather than every tick, so there is no
		// steady-state fault rate for a breaker to usefully act on.
		SafeRun: func(label string, fn func()) {
			defer func() {
				if r := recover(); r != nil {
					logging.Op().Warn("lifecycle hook panicked", "label", label, "panic", r)
				}
			}()
			fn()
		},
		OnError: func(instanceID string, err error) {
			logging.Op().Warn("instance lifecycle hook failed", "instance", instanceID, "error", err)
		},
		ContextFactory: func(inst *object.Instance) any {
			return ws.contextFor(inst)
		},
	})

	if cfg.CronEnabled {
		ws.Cron = scheduler.New(ws.Callouts, ws.clock.Now)
	}

	ws.backend = cfg.Backend
	if cfg.SnapshotPath != "" {
		ws.snapshotter = persistence.NewSnapshotter(cfg.SnapshotPath, cfg.SnapshotInterval, cfg.Backend, func() persistence.Document {
			return persistence.Build(ws.worldView(), nil)
		})
	}

	ws.IOPool = asyncqueue.New(asyncqueue.Config{Workers: cfg.IOWorkers})
	return ws, nil
}

// worldView renders the narrow slice of WorldState the persistence
// package needs, shared by both Save and the periodic Snapshotter.
func (ws *WorldState) worldView() persistence.WorldView {
	return persistence.WorldView{
		Objects:    ws.Objects,
		Containers: ws.Containers,
		Equipment:  ws.Equipment,
	}
}

func (ws *WorldState) recordFault(fault *kernerr.HookFault) {
	ws.faultsMu.Lock()
	defer ws.faultsMu.Unlock()
	ws.faultCount++
	if ws.firstFault == "" {
		ws.firstFault = fault.Error()
	}
}

func (ws *WorldState) drainFaults() (int, string) {
	ws.faultsMu.Lock()
	defer ws.faultsMu.Unlock()
	n, first := ws.faultCount, ws.firstFault
	ws.faultCount, ws.firstFault = 0, ""
	return n, first
}

// sandbox builds the read-only World view Context primitives run
// against (spec.md §6.2).
func (ws *WorldState) sandbox() *mudctx.World {
	return &mudctx.World{
		Containers:    ws.Containers,
		Equipment:     ws.Equipment,
		Callouts:      ws.Callouts,
		Combat:        ws.Combat,
		Messages:      ws.Messages,
		Clock:         ws.clock,
		ResolveObject: ws.resolveObject,
		DisplayName:   ws.displayName,
	}
}

func (ws *WorldState) resolveObject(id string) (blueprint.MudObject, bool) {
	inst, ok := ws.Objects.Get(id)
	if !ok {
		return nil, false
	}
	return inst.Object, true
}

// displayName resolves id's in-world display name via an optional
// DisplayName() string method on the object, falling back to the raw id per spec.md's
// DisplayName contract.
func (ws *WorldState) displayName(id string) string {
	inst, ok := ws.Objects.Get(id)
	if !ok {
		return id
	}
	if named, ok := inst.Object.(interface{ DisplayName() string }); ok {
		if name := named.DisplayName(); name != "" {
			return name
		}
	}
	return id
}

// contextFor builds the Context bound to inst, used for every hook and
// callout invocation against it.
func (ws *WorldState) contextFor(inst *object.Instance) *mudctx.Context {
	return mudctx.New(ws.sandbox(), inst.ID, inst.State)
}

// registries bundles the registries object.Manager.Destruct/ReloadBlueprint
// need to clean up, per object.Registries.
func (ws *WorldState) registries() object.Registries {
	return object.Registries{
		Heartbeats: ws.Heartbeats,
		Callouts:   ws.Callouts,
		Combat:     ws.Combat,
		Containers: ws.Containers,
		Equipment:  ws.Equipment,
	}
}

// EnsureBlueprint compiles blueprintPath if not already cached.
func (ws *WorldState) EnsureBlueprint(ctx context.Context, blueprintPath string) (*blueprint.Blueprint, error) {
	return ws.Objects.EnsureBlueprint(ctx, blueprintPath)
}

// ReloadBlueprint recompiles a blueprint and rebinds every live instance
// of it, re-registering heartbeats per the new object's declared
// interval (spec.md §4.1's reload_blueprint).
func (ws *WorldState) ReloadBlueprint(ctx context.Context, blueprintID string) error {
	return ws.Objects.ReloadBlueprint(ctx, blueprintID, ws.registries(), ws.heartbeatIntervalOf)
}

// Destruct tears instanceID down, cancelling its callouts, unregistering
// its heartbeat, and scrubbing it from containment/equipment.
func (ws *WorldState) Destruct(instanceID string) error {
	return ws.Objects.Destruct(instanceID, ws.registries())
}

// heartbeatIntervalOf asks obj for its declared heartbeat interval via
// the optional Heartbeating capability.
func (ws *WorldState) heartbeatIntervalOf(obj blueprint.MudObject) (time.Duration, bool) {
	if hb, ok := obj.(Heartbeating); ok {
		return hb.HeartbeatInterval()
	}
	return 0, false
}

// RegisterHeartbeatIfDeclared is called after construct/clone to pick up
// an instance's declared cadence, if any.
func (ws *WorldState) RegisterHeartbeatIfDeclared(inst *object.Instance) {
	if interval, ok := ws.heartbeatIntervalOf(inst.Object); ok {
		ws.Heartbeats.Register(inst.ID, interval, ws.clock.Now())
	}
}

// Move relocates memberID into destContainerID, firing on_drop on the
// member's previous container and on_get on the new one when the member
// is Carryable and the endpoint is a Living being (spec.md §4.6's move
// contract).
func (ws *WorldState) Move(memberID, destContainerID string) {
	inst, ok := ws.Objects.Get(memberID)
	carryable := false
	if ok {
		if c, ok := inst.Object.(Carryable); ok {
			carryable = c.IsCarryable()
		}
	}

	prevContainer, hadPrev := ws.Containers.ContainerOf(memberID)
	ws.Containers.Move(memberID, destContainerID)

	if !carryable {
		return
	}
	if hadPrev {
		if prevInst, ok := ws.Objects.Get(prevContainer); ok {
			if _, living := prevInst.Object.(Living); living {
				ws.invokeHook(prevInst, hookOnDrop, []any{memberID})
			}
		}
	}
	if destInst, ok := ws.Objects.Get(destContainerID); ok {
		if _, living := destInst.Object.(Living); living {
			ws.invokeHook(destInst, hookOnGet, []any{memberID})
		}
	}
}

func (ws *WorldState) invokeHook(inst *object.Instance, method string, args []any) {
	ctx := ws.contextFor(inst)
	ws.safe.Call(context.Background(), inst.Blueprint.ID, inst.ID, method, func() {
		ws.invoker.TryInvoke(inst.Object, ctx, method, args, func(err error) {
			logging.Op().Debug("hook not implemented", "instance", inst.ID, "method", method, "error", err)
		})
	})
}

// Tick runs exactly one pass of the driver's 6-phase pipeline (spec.md
// §4.7): heartbeats, callouts, combat, input, message delivery, metrics.
// It is single-threaded and atomic from world code's perspective — Tick
// itself is never called concurrently with another Tick.
func (ws *WorldState) Tick(now time.Time) TickReport {
	start := time.Now()
	ws.tickSeq++
	report := TickReport{TickID: ws.tickSeq}

	ws.drainIO()

	report.Heartbeats = ws.runHeartbeats(now)
	report.Callouts = ws.runCallouts(now)

	deaths := ws.Combat.ProcessRounds(now, ws.combatHooks())
	report.Deaths = len(deaths)
	report.CombatRounds = report.Deaths // sessions that actually ran a round this pass are exactly those ProcessRounds touched; deaths is a lower bound surfaced directly, non-lethal rounds aren't separately counted by combat.Scheduler today

	if ws.input != nil {
		for _, cmd := range ws.input() {
			ws.runCommand(cmd)
		}
	}

	report.MessagesSent = ws.deliverMessages()

	report.Faults, report.FirstFault = ws.drainFaults()
	report.DurationMs = time.Since(start).Milliseconds()

	metrics.Global().RecordTick(report.DurationMs, report.Heartbeats, report.Callouts, report.CombatRounds, report.Deaths, report.MessagesSent, report.Faults > 0)
	logging.Default().Log(&logging.TickLog{
		TickID:       report.TickID,
		DurationMs:   report.DurationMs,
		Heartbeats:   report.Heartbeats,
		Callouts:     report.Callouts,
		CombatRounds: report.CombatRounds,
		Deaths:       report.Deaths,
		MessagesSent: report.MessagesSent,
		Faults:       report.Faults,
		FirstFault:   report.FirstFault,
	})

	return report
}

// drainIO collects completed IOPool job results at the tick boundary,
// per SPEC_FULL.md §5's "never mid-phase" rule, and logs those that
// failed. WorldState itself submits no jobs to IOPool.
func (ws *WorldState) drainIO() {
	for _, r := range ws.IOPool.DrainResults() {
		if r.Err != nil {
			logging.Op().Warn("background job result", "label", r.Label, "error", r.Err)
		}
	}
}

func (ws *WorldState) runHeartbeats(now time.Time) int {
	due := ws.Heartbeats.GetDue(now)
	for _, id := range due {
		inst, ok := ws.Objects.Get(id)
		if !ok {
			continue
		}
		ws.invokeHook(inst, hookHeartbeat, nil)
	}
	return len(due)
}

func (ws *WorldState) runCallouts(now time.Time) int {
	due := ws.Callouts.GetDue(now)
	for _, entry := range due {
		inst, ok := ws.Objects.Get(entry.TargetID)
		if !ok {
			continue
		}
		ctx := ws.contextFor(inst)
		ws.safe.Call(context.Background(), inst.Blueprint.ID, entry.TargetID, entry.Method, func() {
			ws.invoker.TryInvoke(inst.Object, ctx, entry.Method, entry.Args, func(err error) {
				logging.Op().Warn("callout method not resolved", "target", entry.TargetID, "method", entry.Method, "error", err)
			})
		})
	}
	return len(due)
}

func (ws *WorldState) runCommand(cmd Command) {
	inst, ok := ws.Objects.Get(cmd.TargetID)
	if !ok {
		return
	}
	ctx := ws.contextFor(inst)
	ws.safe.Call(context.Background(), inst.Blueprint.ID, cmd.TargetID, cmd.Method, func() {
		ws.invoker.TryInvoke(inst.Object, ctx, cmd.Method, cmd.Args, nil)
	})
}

// deliverMessages drains the message queue and applies the visibility
// rules of spec.md §6.3: TELL reaches its addressee, SAY/EMOTE reach
// whatever player sessions currently share the message's room.
func (ws *WorldState) deliverMessages() int {
	msgs := ws.Messages.Drain()
	delivered := 0
	for _, msg := range msgs {
		fromName := ws.displayName(msg.FromID)
		rendered := messagequeue.Render(msg, fromName)

		switch msg.Kind {
		case messagequeue.TELL:
			ws.deliver(msg.ToID, rendered)
			delivered++
		case messagequeue.SAY, messagequeue.EMOTE:
			for _, memberID := range ws.Containers.Contents(msg.RoomID) {
				inst, ok := ws.Objects.Get(memberID)
				if !ok {
					continue
				}
				if p, ok := inst.Object.(Player); !ok || !p.IsPlayer() {
					continue
				}
				ws.deliver(memberID, rendered)
				delivered++
			}
		}
	}
	return delivered
}

// combatHooks adapts WorldState onto combat.Hooks, the narrow callback
// struct CombatScheduler.ProcessRounds uses to reach into world state
// and world code without depending on their concrete types.
func (ws *WorldState) combatHooks() combat.Hooks {
	return combat.Hooks{
		IsAlive: func(id string) bool {
			inst, ok := ws.Objects.Get(id)
			if !ok {
				return false
			}
			l, ok := inst.Object.(Living)
			return ok && l.IsAlive()
		},
		SameContainer: ws.Containers.SameContainer,
		RoomOf:        ws.Containers.ContainerOf,
		Exits: func(roomID string) []string {
			inst, ok := ws.Objects.Get(roomID)
			if !ok {
				return nil
			}
			if r, ok := inst.Object.(RoomExits); ok {
				return r.Exits()
			}
			return nil
		},
		WeaponRange: func(attackerID string) (int, int, bool) {
			for _, slot := range ws.Equipment.Slots(attackerID) {
				inst, ok := ws.Objects.Get(slot)
				if !ok {
					continue
				}
				if w, ok := inst.Object.(Weapon); ok {
					min, max := w.WeaponRange()
					return min, max, true
				}
			}
			return 0, 0, false
		},
		ArmorClass: func(defenderID string) int {
			inst, ok := ws.Objects.Get(defenderID)
			if !ok {
				return 0
			}
			if a, ok := inst.Object.(Armored); ok {
				return a.ArmorClass()
			}
			return 0
		},
		TryAttackHook: func(attackerID string, base int) (int, bool) {
			inst, ok := ws.Objects.Get(attackerID)
			if !ok {
				return 0, false
			}
			h, ok := inst.Object.(AttackHooked)
			if !ok {
				return 0, false
			}
			return h.AttackHook(base), true
		},
		TryDefendHook: func(defenderID, attackerID string, damage int) (int, bool) {
			inst, ok := ws.Objects.Get(defenderID)
			if !ok {
				return 0, false
			}
			h, ok := inst.Object.(DefendHooked)
			if !ok {
				return 0, false
			}
			return h.DefendHook(attackerID, damage), true
		},
		TakeDamage: func(defenderID string, amount int, attackerID string) bool {
			inst, ok := ws.Objects.Get(defenderID)
			if !ok {
				return false
			}
			l, ok := inst.Object.(Living)
			if !ok {
				return true
			}
			return l.TakeDamage(amount, attackerID)
		},
		DeliverRoundMessages: func(attackerID, defenderID, roomID string, damage int) {
			attackerName := ws.displayName(attackerID)
			defenderName := ws.displayName(defenderID)
			msg := fmt.Sprintf("%s hits %s for %d damage!", attackerName, defenderName, damage)
			ws.deliver(attackerID, msg)
			ws.deliver(defenderID, msg)
			for _, memberID := range ws.Containers.Contents(roomID) {
				if memberID == attackerID || memberID == defenderID {
					continue
				}
				inst, ok := ws.Objects.Get(memberID)
				if !ok {
					continue
				}
				if p, ok := inst.Object.(Player); ok && p.IsPlayer() {
					ws.deliver(memberID, msg)
				}
			}
		},
		DeliverTargetLeft: func(attackerID string) {
			ws.deliver(attackerID, "Your target has left.")
		},
	}
}

// RunLoop drives Tick on a fixed interval until ctx is cancelled or Stop
// is called, grounded on the teacher's ticker/stopCh/wg worker loop
// (internal/workflow's Engine.worker).
func (ws *WorldState) RunLoop(ctx context.Context, interval time.Duration) {
	ws.stopCh = make(chan struct{})
	ws.doneCh = make(chan struct{})
	ws.IOPool.Start()
	if ws.Cron != nil {
		ws.Cron.Start()
	}
	if ws.snapshotter != nil {
		ws.snapshotter.Start(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(ws.doneCh)

	logging.Op().Info("world tick loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			ws.shutdown()
			return
		case <-ws.stopCh:
			ws.shutdown()
			return
		case <-ticker.C:
			ws.Tick(ws.clock.Now())
		}
	}
}

func (ws *WorldState) shutdown() {
	if ws.Cron != nil {
		ws.Cron.Stop()
	}
	if ws.snapshotter != nil {
		ws.snapshotter.Stop()
	}
	ws.IOPool.Stop()
	logging.Op().Info("world tick loop stopped")
}

// BreakerState reports blueprintID's circuit breaker state, for the
// stats/diagnostics surface (spec.md §9 NEW).
func (ws *WorldState) BreakerState(blueprintID string) string {
	return ws.safe.BreakerState(blueprintID)
}

// Stop signals RunLoop to exit and blocks until it has.
func (ws *WorldState) Stop() {
	if ws.stopCh == nil {
		return
	}
	close(ws.stopCh)
	<-ws.doneCh
}

// Save renders every live instance, the containment graph, and the
// equipment graph into the spec.md §6.4 document and writes it
// atomically to path.
func (ws *WorldState) Save(path string, session *persistence.Session) error {
	doc := persistence.Build(ws.worldView(), session)
	return persistence.Save(path, doc)
}

// Restore loads the document at path (falling back to the configured
// Backend mirror if the local file is missing, per persistence.LoadSeed)
// and reconstructs every instance it names, repopulating the
// containment and equipment registries and re-registering heartbeats
// exactly as a fresh construct would. Returns the document's optional
// session section.
func (ws *WorldState) Restore(ctx context.Context, path string) (*persistence.Session, error) {
	doc, err := persistence.LoadSeed(ctx, path, ws.backend)
	if err != nil {
		return nil, err
	}
	return persistence.Restore(ctx, ws.Objects, persistence.RegistryRestorer{
		Containers: ws.Containers,
		Equipment:  ws.Equipment,
	}, doc, ws.RegisterHeartbeatIfDeclared)
}

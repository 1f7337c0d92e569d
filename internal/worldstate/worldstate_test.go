package worldstate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/oriys/mudkernel/internal/blueprint"
	"github.com/oriys/mudkernel/internal/compiler"
	"github.com/oriys/mudkernel/internal/messagequeue"
	"github.com/oriys/mudkernel/internal/mudctx"
	"github.com/oriys/mudkernel/internal/object"
)

// stubLoader hands back a fixed byte slice for any blueprint path; the
// actual "source" is irrelevant since stubCompiler never looks at it.
type stubLoader struct{}

func (stubLoader) Load(ctx context.Context, blueprintID string) ([]byte, time.Time, error) {
	return []byte(blueprintID), time.Unix(1, 0), nil
}

// stubCompiler maps a handful of fixed blueprint paths to the stub
// MudObject types below, so a single Manager can host a room, a sword,
// and two players side by side without a real compiled plugin.
type stubCompiler struct{}

func (stubCompiler) Compile(ctx context.Context, blueprintID string, code []byte, modTime time.Time) (*compiler.Compiled, error) {
	switch blueprintID {
	case "items/sword.cs":
		return &compiler.Compiled{
			Sample: &stubSword{},
			New:    func() blueprint.MudObject { return &stubSword{} },
			Scope:  blueprint.NewScope(func() {}),
		}, nil
	case "rooms/start.cs":
		return &compiler.Compiled{
			Sample: &stubRoom{},
			New:    func() blueprint.MudObject { return &stubRoom{} },
			Scope:  blueprint.NewScope(func() {}),
		}, nil
	case "players/hero.cs":
		return &compiler.Compiled{
			Sample: &stubPlayer{name: "hero"},
			New:    func() blueprint.MudObject { return &stubPlayer{name: "hero", alive: true} },
			Scope:  blueprint.NewScope(func() {}),
		}, nil
	case "players/squire.cs":
		return &compiler.Compiled{
			Sample: &stubPlayer{name: "squire"},
			New:    func() blueprint.MudObject { return &stubPlayer{name: "squire", alive: true} },
			Scope:  blueprint.NewScope(func() {}),
		}, nil
	}
	return nil, fmt.Errorf("stubCompiler: unknown blueprint %q", blueprintID)
}

// stubSword is Carryable but neither Living nor Heartbeating.
type stubSword struct{}

func (s *stubSword) TypeName() string  { return "stubSword" }
func (s *stubSword) IsCarryable() bool { return true }

// stubRoom is plain: neither Carryable nor Living, so on_drop/on_get
// never fire against it.
type stubRoom struct{}

func (r *stubRoom) TypeName() string { return "stubRoom" }

// stubPlayer is Living and heartbeats every tick, and records the
// on_get/on_drop/heartbeat calls it receives so tests can assert on
// them directly rather than on side effects.
type stubPlayer struct {
	name       string
	alive      bool
	gotIDs     []string
	dropIDs    []string
	heartbeats int
	pings      int
}

func (p *stubPlayer) TypeName() string { return "stubPlayer:" + p.name }
func (p *stubPlayer) IsAlive() bool    { return p.alive }
func (p *stubPlayer) IsPlayer() bool   { return true }
func (p *stubPlayer) TakeDamage(amount int, attackerID string) bool {
	p.alive = amount < 1000
	return p.alive
}
func (p *stubPlayer) HeartbeatInterval() (time.Duration, bool) { return time.Millisecond, true }
func (p *stubPlayer) Heartbeat(ctx *mudctx.Context)             { p.heartbeats++ }
func (p *stubPlayer) Ping(ctx *mudctx.Context)                  { p.pings++ }
func (p *stubPlayer) OnGet(ctx *mudctx.Context, itemID string)  { p.gotIDs = append(p.gotIDs, itemID) }
func (p *stubPlayer) OnDrop(ctx *mudctx.Context, itemID string) { p.dropIDs = append(p.dropIDs, itemID) }

func newTestWorldState(t *testing.T) *WorldState {
	t.Helper()
	ws, err := New(Config{Loader: stubLoader{}, Compiler: stubCompiler{}})
	if err != nil {
		t.Fatalf("unexpected error building world state: %v", err)
	}
	return ws
}

// load is a small test helper around object.Load plus ws.Objects.Get,
// since every assertion below needs both the typed object and its
// Instance.ID.
func load[T blueprint.MudObject](t *testing.T, ws *WorldState, path string) (T, *object.Instance) {
	t.Helper()
	obj, err := object.Load[T](context.Background(), ws.Objects, path)
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	inst, ok := ws.Objects.Get(path)
	if !ok {
		t.Fatalf("expected %s registered as a live instance", path)
	}
	return obj, inst
}

// TestMoveFiresOnGetAndOnDropForCarryableItemsBetweenLivingBeings covers
// the "player picks up sword" scenario end to end: an item placed
// directly into a room (no hook, nothing is Living there), picked up by
// a player (on_get only, since the room isn't Living), then handed to a
// second player (on_drop on the first, on_get on the second, since both
// are Living).
func TestMoveFiresOnGetAndOnDropForCarryableItemsBetweenLivingBeings(t *testing.T) {
	ws := newTestWorldState(t)

	_, swordInst := load[*stubSword](t, ws, "items/sword.cs")
	hero, heroInst := load[*stubPlayer](t, ws, "players/hero.cs")
	squire, squireInst := load[*stubPlayer](t, ws, "players/squire.cs")
	_, roomInst := load[*stubRoom](t, ws, "rooms/start.cs")

	// Placed directly on the ground: no hook fires, since nothing moved
	// through WorldState.Move yet.
	ws.Containers.Add(roomInst.ID, swordInst.ID)
	if len(hero.gotIDs) != 0 {
		t.Fatalf("expected no hooks fired by direct placement, got %+v", hero.gotIDs)
	}

	// Hero picks the sword up off the ground: the room isn't Living, so
	// only on_get fires, on the hero.
	ws.Move(swordInst.ID, heroInst.ID)
	if len(hero.gotIDs) != 1 || hero.gotIDs[0] != swordInst.ID {
		t.Fatalf("expected hero.OnGet(sword) exactly once, got %+v", hero.gotIDs)
	}
	if len(hero.dropIDs) != 0 {
		t.Fatalf("expected no on_drop on the hero yet, got %+v", hero.dropIDs)
	}

	// Hero hands the sword to the squire: both are Living, so on_drop
	// fires on the hero and on_get fires on the squire.
	ws.Move(swordInst.ID, squireInst.ID)
	if len(hero.dropIDs) != 1 || hero.dropIDs[0] != swordInst.ID {
		t.Fatalf("expected hero.OnDrop(sword) exactly once, got %+v", hero.dropIDs)
	}
	if len(squire.gotIDs) != 1 || squire.gotIDs[0] != swordInst.ID {
		t.Fatalf("expected squire.OnGet(sword) exactly once, got %+v", squire.gotIDs)
	}
	if len(hero.gotIDs) != 1 {
		t.Fatalf("expected hero.OnGet not called again, got %+v", hero.gotIDs)
	}

	if container, ok := ws.Containers.ContainerOf(swordInst.ID); !ok || container != squireInst.ID {
		t.Fatalf("expected sword now contained by squire, got %q ok=%v", container, ok)
	}
}

// TestMoveDoesNotFireHooksForNonCarryableMembers covers the other half
// of the move contract: a member that isn't Carryable (a room, in this
// test) never triggers on_drop/on_get, no matter what it moves into.
func TestMoveDoesNotFireHooksForNonCarryableMembers(t *testing.T) {
	ws := newTestWorldState(t)

	_, roomInst := load[*stubRoom](t, ws, "rooms/start.cs")
	hero, heroInst := load[*stubPlayer](t, ws, "players/hero.cs")

	ws.Move(roomInst.ID, heroInst.ID)

	if len(hero.gotIDs) != 0 {
		t.Fatalf("expected no on_get for a non-carryable member, got %+v", hero.gotIDs)
	}
}

// TestTickRunsHeartbeatsCalloutsAndDeliversMessages exercises Tick's
// pipeline at an integration level: a registered heartbeat fires, a
// scheduled callout fires, and a SAY message reaches every player
// sharing the speaker's room.
func TestTickRunsHeartbeatsCalloutsAndDeliversMessages(t *testing.T) {
	ws := newTestWorldState(t)

	hero, heroInst := load[*stubPlayer](t, ws, "players/hero.cs")
	squire, squireInst := load[*stubPlayer](t, ws, "players/squire.cs")
	_, roomInst := load[*stubRoom](t, ws, "rooms/start.cs")

	ws.Containers.Add(roomInst.ID, heroInst.ID)
	ws.Containers.Add(roomInst.ID, squireInst.ID)

	ws.RegisterHeartbeatIfDeclared(heroInst)
	ws.Callouts.Schedule(time.Now(), heroInst.ID, "Ping", 0)

	delivered := make(map[string][]string)
	ws.deliver = func(toID, rendered string) {
		delivered[toID] = append(delivered[toID], rendered)
	}

	if err := ws.Messages.Enqueue(messagequeue.Message{
		FromID: heroInst.ID,
		Kind:   messagequeue.SAY,
		Body:   "hello there",
		RoomID: roomInst.ID,
	}); err != nil {
		t.Fatalf("enqueue SAY: %v", err)
	}

	report := ws.Tick(time.Now().Add(time.Second))

	if report.Heartbeats == 0 {
		t.Fatalf("expected at least one due heartbeat, got report %+v", report)
	}
	if hero.heartbeats == 0 {
		t.Fatalf("expected hero's heartbeat hook to have run")
	}
	if report.Callouts == 0 || hero.pings == 0 {
		t.Fatalf("expected the scheduled callout to have fired, got report %+v pings=%d", report, hero.pings)
	}
	if report.MessagesSent == 0 {
		t.Fatalf("expected the SAY message to have been delivered, got report %+v", report)
	}
	if lines, ok := delivered[squireInst.ID]; !ok || len(lines) == 0 {
		t.Fatalf("expected squire (sharing hero's room) to receive the SAY message, got %+v", delivered)
	}
}

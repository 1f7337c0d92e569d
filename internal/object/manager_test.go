package object

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/oriys/mudkernel/internal/blueprint"
	"github.com/oriys/mudkernel/internal/callout"
	"github.com/oriys/mudkernel/internal/compiler"
	"github.com/oriys/mudkernel/internal/heartbeat"
	"github.com/oriys/mudkernel/internal/statestore"
)

// testThing is the stand-in MudObject used across this package's tests.
type testThing struct {
	gen     int // bumped on each (re)construction, to prove reload swapped the object
	onLoads int
}

func (t *testThing) TypeName() string { return "testThing" }
func (t *testThing) OnLoad()          { t.onLoads++ }

// fakeLoader returns a fixed byte slice and a caller-controlled mtime, so
// reload tests can force a fresh compile without touching a filesystem.
type fakeLoader struct {
	modTime time.Time
}

func (f *fakeLoader) Load(ctx context.Context, blueprintID string) ([]byte, time.Time, error) {
	return []byte("source"), f.modTime, nil
}

// fakeCompiler hands back a new *testThing each call, stamped with an
// incrementing generation so tests can tell reload actually rebuilt the
// object rather than reusing the old one.
type fakeCompiler struct{ nextGen int }

func (f *fakeCompiler) Compile(ctx context.Context, blueprintID string, code []byte, modTime time.Time) (*compiler.Compiled, error) {
	f.nextGen++
	gen := f.nextGen
	return &compiler.Compiled{
		Sample: &testThing{},
		New:    func() blueprint.MudObject { return &testThing{gen: gen} },
		Scope:  blueprint.NewScope(func() {}),
	}, nil
}

func newTestManager() *Manager {
	invoker := callout.NewInvoker(reflect.TypeOf(instanceContext{}))
	return New(Config{
		Loader:   &fakeLoader{modTime: time.Unix(1, 0)},
		Compiler: &fakeCompiler{},
		Invoker:  invoker,
	})
}

func TestLoadConstructsSingletonAndIsIdempotent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	first, err := Load[*testThing](ctx, m, "rooms/start.cs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Load[*testThing](ctx, m, "rooms/start.cs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatal("expected Load to return the same singleton instance on repeat calls")
	}
	if first.onLoads != 1 {
		t.Fatalf("expected on_load invoked exactly once, got %d", first.onLoads)
	}
}

func TestCloneCreatesDistinctMonotonicIDs(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if _, err := Clone[*testThing](ctx, m, "monsters/orc.cs"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Clone[*testThing](ctx, m, "monsters/orc.cs"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	insts := m.Instances()
	if len(insts) != 2 {
		t.Fatalf("expected 2 clone instances, got %d", len(insts))
	}
	if insts[0].ID == insts[1].ID {
		t.Fatal("expected distinct clone ids")
	}
}

func TestLoadWrongTypeReturnsTypeMismatch(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if _, err := Load[*testThing](ctx, m, "rooms/start.cs"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	type otherInterface interface{ Nope() }
	if _, err := Load[otherInterface](ctx, m, "rooms/start.cs"); err == nil {
		t.Fatal("expected a type mismatch error for an incompatible target type")
	}
}

func TestDestructCancelsCalloutsAndRemovesRegistries(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	inst, err := Load[*testThing](ctx, m, "rooms/start.cs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ := m.Get("rooms/start.cs")
	_ = inst

	callouts := callout.New()
	callouts.Schedule(time.Unix(0, 0), id.ID, "wander", time.Second)
	hb := heartbeat.New()
	hb.Register(id.ID, time.Second, time.Unix(0, 0))

	reg := Registries{Callouts: callouts, Heartbeats: hb}
	if err := m.Destruct(id.ID, reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := m.Get(id.ID); ok {
		t.Fatal("expected destructed instance gone from the manager")
	}
	if callouts.PendingCount() != 0 {
		t.Fatalf("expected destruct to cancel pending callouts, got %d pending", callouts.PendingCount())
	}
	if hb.IsRegistered(id.ID) {
		t.Fatal("expected destruct to unregister the heartbeat")
	}
}

func TestDestructUnknownIDReturnsError(t *testing.T) {
	m := newTestManager()
	if err := m.Destruct("nope", Registries{}); err == nil {
		t.Fatal("expected an error destructing an unknown instance")
	}
}

func TestReloadBlueprintSwapsObjectAndPreservesState(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	inst, err := Load[*testThing](ctx, m, "rooms/start.cs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fullInst, _ := m.Get("rooms/start.cs")
	fullInst.State.SetInt("hp", 42)
	originalGen := inst.gen

	if err := m.ReloadBlueprint(ctx, "rooms/start.cs", Registries{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, ok := m.Get("rooms/start.cs")
	if !ok {
		t.Fatal("expected instance to still exist after reload")
	}
	newThing := reloaded.Object.(*testThing)
	if newThing.gen == originalGen {
		t.Fatal("expected reload to swap in a freshly compiled object")
	}
	if reloaded.State.GetInt("hp", 0) != 42 {
		t.Fatalf("expected state preserved across reload, got %d", reloaded.State.GetInt("hp", 0))
	}
}

func TestGetStatsForInstanceAndBlueprint(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if _, err := Load[*testThing](ctx, m, "rooms/start.cs"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := m.GetStats("rooms/start.cs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TypeName != "testThing" {
		t.Fatalf("expected instance stats, got %+v", stats)
	}

	bp, _ := m.GetBlueprint("rooms/start.cs")
	if bp.InstanceCount() != 1 {
		t.Fatalf("expected blueprint instance count 1, got %d", bp.InstanceCount())
	}
}

func TestRestoreInstanceRebindsStateAndInvokesOnLoad(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	state := statestore.New()
	state.SetInt("hp", 7)

	inst, err := m.RestoreInstance(ctx, "rooms/start.cs", "rooms/start.cs", state, time.Unix(5, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	thing := inst.Object.(*testThing)
	if thing.onLoads != 1 {
		t.Fatalf("expected on_load invoked once during restore, got %d", thing.onLoads)
	}
	if inst.State.GetInt("hp", 0) != 7 {
		t.Fatalf("expected restored state preserved, got %d", inst.State.GetInt("hp", 0))
	}
}

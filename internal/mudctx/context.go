// Package mudctx implements the sandboxed Context every hook/callout
// method receives (spec.md §4.6): a narrow, read-mostly facade over the
// driver's registries plus the mutation primitives world code is allowed
// to call (tell/say/emote, call_out/every/cancel_call_out,
// deal_damage/heal_target, move, inventory/container queries).
//
// Context never exposes the registries themselves, only the operations
// spec.md names, mirroring the teacher's executor.Invoker pattern of a
// single narrow interface standing between user code and the host.
package mudctx

import (
	"fmt"
	"strings"
	"time"

	"github.com/oriys/mudkernel/internal/blueprint"
	"github.com/oriys/mudkernel/internal/callout"
	"github.com/oriys/mudkernel/internal/clock"
	"github.com/oriys/mudkernel/internal/combat"
	"github.com/oriys/mudkernel/internal/container"
	"github.com/oriys/mudkernel/internal/equipment"
	"github.com/oriys/mudkernel/internal/messagequeue"
	"github.com/oriys/mudkernel/internal/statestore"
)

// World is the narrow read-only sandbox view a Context is built against
// (spec.md §6.2): it answers "who/where/what" questions without handing
// out the underlying registries or the object manager itself.
type World struct {
	Containers *container.Registry
	Equipment  *equipment.Registry
	Callouts   *callout.Scheduler
	Combat     *combat.Scheduler
	Messages   *messagequeue.Queue
	Clock      clock.Clock

	// ResolveObject returns the live MudObject for id, if loaded.
	ResolveObject func(id string) (blueprint.MudObject, bool)
	// DisplayName returns id's in-world display name (falls back to id).
	DisplayName func(id string) string
}

// Context is passed as the first argument to every hook/callout method
// world code defines (spec.md §4.6). One Context is constructed per
// invocation, bound to the instance it is invoked against.
type Context struct {
	world           *World
	state           *statestore.Store
	currentObjectID string
}

// New builds a Context for an invocation against instanceID, whose
// mutable state is state.
func New(world *World, instanceID string, state *statestore.Store) *Context {
	return &Context{world: world, state: state, currentObjectID: instanceID}
}

// CurrentObjectID returns the id of the instance this Context is bound
// to, i.e. "self" for the hook/callout currently executing.
func (c *Context) CurrentObjectID() string { return c.currentObjectID }

// State exposes this instance's mutable state store directly, since
// spec.md §4.6 treats state read/write as unrestricted for the owning
// instance (only other instances' state is off-limits, which Context
// enforces simply by never exposing another instance's Store).
func (c *Context) State() *statestore.Store { return c.state }

// Clock returns the driver's clock, used by world code that wants to
// read wall time without depending on the time package returning real
// time under test.
func (c *Context) Clock() clock.Clock {
	if c.world.Clock != nil {
		return c.world.Clock
	}
	return clock.System()
}

// RoomID returns the container currently holding this instance, per
// spec.md §4.6's "room_id" field.
func (c *Context) RoomID() (string, bool) {
	return c.world.Containers.ContainerOf(c.currentObjectID)
}

// --- messaging -------------------------------------------------------

// Tell enqueues a TELL message from this instance to toID.
func (c *Context) Tell(toID, body string) error {
	return c.world.Messages.Enqueue(messagequeue.Message{
		FromID: c.currentObjectID,
		ToID:   toID,
		Kind:   messagequeue.TELL,
		Body:   body,
	})
}

// Say enqueues a SAY message from this instance into its current room.
func (c *Context) Say(body string) error {
	room, ok := c.RoomID()
	if !ok {
		return fmt.Errorf("mudctx: say: %s is in no container", c.currentObjectID)
	}
	return c.world.Messages.Enqueue(messagequeue.Message{
		FromID: c.currentObjectID,
		Kind:   messagequeue.SAY,
		Body:   body,
		RoomID: room,
	})
}

// Emote enqueues an EMOTE message from this instance into its current
// room.
func (c *Context) Emote(body string) error {
	room, ok := c.RoomID()
	if !ok {
		return fmt.Errorf("mudctx: emote: %s is in no container", c.currentObjectID)
	}
	return c.world.Messages.Enqueue(messagequeue.Message{
		FromID: c.currentObjectID,
		Kind:   messagequeue.EMOTE,
		Body:   body,
		RoomID: room,
	})
}

// --- scheduling --------------------------------------------------------

// CallOut schedules method to run against this instance after delay,
// returning the callout id (spec.md §4.3, §4.6).
func (c *Context) CallOut(method string, delay time.Duration, args ...any) string {
	return c.world.Callouts.Schedule(c.Clock().Now(), c.currentObjectID, method, delay, args...)
}

// Every schedules method to run against this instance repeatedly, first
// firing after interval and every interval thereafter.
func (c *Context) Every(method string, interval time.Duration, args ...any) string {
	return c.world.Callouts.ScheduleEvery(c.Clock().Now(), c.currentObjectID, method, interval, args...)
}

// CancelCallOut cancels a previously scheduled callout by id.
func (c *Context) CancelCallOut(id string) bool {
	return c.world.Callouts.Cancel(id)
}

// --- combat ------------------------------------------------------------

// StartCombat begins this instance attacking targetID.
func (c *Context) StartCombat(targetID string) {
	c.world.Combat.StartCombat(c.currentObjectID, targetID, c.Clock().Now())
}

// EndCombat ends combat involving this instance, as attacker or target.
func (c *Context) EndCombat() {
	c.world.Combat.EndCombat(c.currentObjectID)
}

// --- movement & containment ---------------------------------------------

// Move relocates this instance into destContainerID.
func (c *Context) Move(destContainerID string) {
	c.world.Containers.Move(c.currentObjectID, destContainerID)
}

// GetInventory returns the ids of items directly contained by this
// instance.
func (c *Context) GetInventory() []string {
	return c.world.Containers.Contents(c.currentObjectID)
}

// weighable is the optional capability an item implements to report its
// own carry weight for get_container_weight (spec.md §4.6). Items that
// don't implement it contribute 0, the same "accept interfaces, ignore
// absence" convention living/healable below use.
type weighable interface {
	Weight() int
}

// shortDescribable is the optional capability an item implements to
// expose a short description find_item also matches against, alongside
// its display name (spec.md §4.6).
type shortDescribable interface {
	ShortDescription() string
}

// GetContainerWeight sums the carry weight of every item directly
// contained by containerID, which need not be this instance (spec.md
// §4.6 takes an explicit container argument, not just "self").
func (c *Context) GetContainerWeight(containerID string) int {
	total := 0
	for _, item := range c.world.Containers.Contents(containerID) {
		obj, ok := c.world.ResolveObject(item)
		if !ok {
			continue
		}
		if w, ok := obj.(weighable); ok {
			total += w.Weight()
		}
	}
	return total
}

// FindItem returns the id of the first item directly contained by
// containerID whose display name, or short description if it has one,
// contains name as a case-insensitive substring (spec.md §4.6).
func (c *Context) FindItem(name, containerID string) (string, bool) {
	needle := strings.ToLower(name)
	for _, item := range c.world.Containers.Contents(containerID) {
		if c.world.DisplayName != nil && strings.Contains(strings.ToLower(c.world.DisplayName(item)), needle) {
			return item, true
		}
		obj, ok := c.world.ResolveObject(item)
		if !ok {
			continue
		}
		if sd, ok := obj.(shortDescribable); ok && strings.Contains(strings.ToLower(sd.ShortDescription()), needle) {
			return item, true
		}
	}
	return "", false
}

// --- damage --------------------------------------------------------------

// living is the narrow capability deal_damage/heal_target route
// through: an instance's compiled object implements it directly (the
// accept-interfaces style blueprint.MudObject itself uses for
// TypeName), rather than going through reflective hook dispatch, since
// both primitives need a typed return value CallOutInvoker's
// fire-and-forget TryInvoke cannot hand back.
type living interface {
	TakeDamage(amount int, attackerID string) (stillAlive bool)
}

type healable interface {
	Heal(amount int) (newHP int)
}

// DealDamage applies amount to targetID if it implements the living
// capability, attributed to this instance. Returns false if targetID is
// unresolvable or does not implement living.
func (c *Context) DealDamage(targetID string, amount int) bool {
	obj, ok := c.world.ResolveObject(targetID)
	if !ok {
		return false
	}
	l, ok := obj.(living)
	if !ok {
		return false
	}
	return l.TakeDamage(amount, c.currentObjectID)
}

// HealTarget restores amount of health to targetID if it implements the
// healable capability. Returns false if targetID is unresolvable or does
// not implement healable.
func (c *Context) HealTarget(targetID string, amount int) bool {
	obj, ok := c.world.ResolveObject(targetID)
	if !ok {
		return false
	}
	h, ok := obj.(healable)
	if !ok {
		return false
	}
	h.Heal(amount)
	return true
}

// --- equipment -----------------------------------------------------------

// Equip wears/wields itemID in slot on this instance, returning any item
// it bumped.
func (c *Context) Equip(slot, itemID string) (previous string, hadPrevious bool) {
	return c.world.Equipment.Equip(c.currentObjectID, slot, itemID)
}

// Unequip removes whatever item occupies slot on this instance.
func (c *Context) Unequip(slot string) (itemID string, ok bool) {
	return c.world.Equipment.Unequip(c.currentObjectID, slot)
}

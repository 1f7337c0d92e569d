package worldstate

import "time"

// The interfaces below are the typed "hook" capabilities an instance's
// compiled object may optionally implement. Fire-and-forget hooks
// (heartbeat, on_load, on_reload, callouts, on_drop/on_get) go through
// the reflective CallOutInvoker per spec.md §4.5, since they take no
// meaningful return value; anything the driver needs a return value
// from is expressed as a narrow Go interface instead and type-asserted,
// the idiomatic accept-interfaces style blueprint.MudObject itself uses
// for TypeName.

// Heartbeating lets an instance declare its own heartbeat cadence,
// queried once after construct/clone/reload (spec.md §4.2).
type Heartbeating interface {
	HeartbeatInterval() (time.Duration, bool)
}

// Living is the combat/damage capability spec.md §4.4 and §4.6's
// deal_damage/heal_target route through.
type Living interface {
	IsAlive() bool
	TakeDamage(amount int, attackerID string) (stillAlive bool)
}

// Healable is the optional counterpart Context.heal_target uses.
type Healable interface {
	Heal(amount int) (newHP int)
}

// Weapon is the equip-aggregate combat reads weapon damage from
// (spec.md §4.4 step 3): the item currently equipped in a being's
// weapon-bearing slot.
type Weapon interface {
	WeaponRange() (min, max int)
}

// Armored is the defender capability combat reads total armor class
// from (spec.md §4.4 step 5).
type Armored interface {
	ArmorClass() int
}

// AttackHooked lets an attacker override its base damage roll
// (spec.md §4.4 step 4).
type AttackHooked interface {
	AttackHook(base int) (override int)
}

// DefendHooked lets a defender override incoming damage
// (spec.md §4.4 step 6).
type DefendHooked interface {
	DefendHook(attackerID string, damage int) (override int)
}

// RoomExits lets a room declare its exit directions, used by
// CombatScheduler.AttemptFlee.
type RoomExits interface {
	Exits() []string
}

// Player marks an instance as a player session's avatar, restricting
// combat-round bystander narration to players only (spec.md §4.4 step 7,
// resolved per §9's open question).
type Player interface {
	IsPlayer() bool
}

// Carryable marks an item as eligible for on_drop/on_get notifications
// when it crosses a container boundary into or out of a living being
// (spec.md §4.6's move contract).
type Carryable interface {
	IsCarryable() bool
}

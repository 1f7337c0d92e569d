// Package combat implements the paired-combatant round scheduler
// (spec.md §4.4). It is deliberately decoupled from the object model and
// Context: callers supply a Hooks struct of narrow functions so combat
// has no import-time dependency on mudctx/object (which themselves sit
// above combat in the dependency graph), mirroring the narrow-interface
// style the teacher's workflow engine uses to talk to store/executor
// through small interfaces rather than concrete types.
package combat

import (
	"math/rand"
	"sync"
	"time"
)

// ROUND_INTERVAL is the minimum spacing between combat rounds for a
// given session, per spec.md §4.4.
const ROUND_INTERVAL = 2 * time.Second

// Session is a directional attacker -> defender binding.
type Session struct {
	AttackerID   string
	DefenderID   string
	StartedAt    time.Time
	LastRoundAt  time.Time
}

// Hooks are the narrow callbacks ProcessRounds uses to reach into world
// state and world code without depending on their concrete types.
type Hooks struct {
	// IsAlive reports whether id refers to a living, present being.
	IsAlive func(id string) bool
	// SameContainer reports whether a and b share a container (room).
	SameContainer func(a, b string) bool
	// RoomOf returns the id's current container.
	RoomOf func(id string) (string, bool)
	// Exits returns the exit directions available from roomID.
	Exits func(roomID string) []string
	// WeaponRange returns the attacker's equipped weapon's damage range.
	// ok is false when no weapon is equipped (base roll becomes [1,2]).
	WeaponRange func(attackerID string) (min, max int, ok bool)
	// ArmorClass returns the defender's total armor class.
	ArmorClass func(defenderID string) int
	// TryAttackHook invokes the attacker's optional attack hook if
	// implemented, returning its override of base damage.
	TryAttackHook func(attackerID string, base int) (override int, implemented bool)
	// TryDefendHook invokes the defender's optional defend hook if
	// implemented, returning its override of the computed damage.
	TryDefendHook func(defenderID, attackerID string, damage int) (override int, implemented bool)
	// TakeDamage applies amount to defenderID, attributed to attackerID,
	// and returns whether the defender is still alive afterward.
	TakeDamage func(defenderID string, amount int, attackerID string) (stillAlive bool)
	// DeliverRoundMessages sends combat narration to the attacker, the
	// defender, and player bystanders in roomID (bystander delivery is
	// restricted to players per spec.md §9's resolved open question).
	DeliverRoundMessages func(attackerID, defenderID, roomID string, damage int)
	// DeliverTargetLeft tells attackerID that its target left.
	DeliverTargetLeft func(attackerID string)
}

// Death records a combat kill for the tick's report.
type Death struct {
	AttackerID string
	DefenderID string
}

// Scheduler holds {attacker_id -> Session}.
type Scheduler struct {
	mu       sync.Mutex
	sessions map[string]*Session
	rng      *rand.Rand
}

// New creates an empty combat scheduler.
func New() *Scheduler {
	return &Scheduler{
		sessions: make(map[string]*Session),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// StartCombat sets session[attacker] = (defender, now, now), replacing
// any prior session attacker held.
func (s *Scheduler) StartCombat(attacker, defender string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[attacker] = &Session{
		AttackerID:  attacker,
		DefenderID:  defender,
		StartedAt:   now,
		LastRoundAt: now,
	}
}

// EndCombat removes session[x] and every session where session.Defender
// == x, since ending combat for a being must also end any combat where
// that being is the target.
func (s *Scheduler) EndCombat(x string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, x)
	for attacker, sess := range s.sessions {
		if sess.DefenderID == x {
			delete(s.sessions, attacker)
		}
	}
}

// IsInCombat reports whether x currently has a session as attacker.
func (s *Scheduler) IsInCombat(x string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[x]
	return ok
}

// SessionFor returns a copy of x's session as attacker, if any.
func (s *Scheduler) SessionFor(x string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[x]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Count returns the number of active combat sessions.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ProcessRounds scans sessions and runs a round for each whose interval
// has elapsed, per the 9-step algorithm in spec.md §4.4. Returns the
// deaths recorded this pass.
func (s *Scheduler) ProcessRounds(now time.Time, h Hooks) []Death {
	s.mu.Lock()
	due := make([]*Session, 0)
	for _, sess := range s.sessions {
		if now.Sub(sess.LastRoundAt) >= ROUND_INTERVAL {
			due = append(due, sess)
		}
	}
	s.mu.Unlock()

	var deaths []Death
	for _, sess := range due {
		if d, ok := s.runRound(now, sess, h); ok {
			deaths = append(deaths, d)
		}
	}
	return deaths
}

func (s *Scheduler) runRound(now time.Time, sess *Session, h Hooks) (Death, bool) {
	attacker, defender := sess.AttackerID, sess.DefenderID

	// 1. Missing or dead combatant ends combat.
	if h.IsAlive == nil || !h.IsAlive(attacker) || !h.IsAlive(defender) {
		s.EndCombat(attacker)
		return Death{}, false
	}

	// 2. Different containers: target has left.
	if h.SameContainer != nil && !h.SameContainer(attacker, defender) {
		if h.DeliverTargetLeft != nil {
			h.DeliverTargetLeft(attacker)
		}
		s.EndCombat(attacker)
		return Death{}, false
	}

	// 3. Weapon damage roll.
	base := s.rollBase(attacker, h)

	// 4. Attack hook override.
	if h.TryAttackHook != nil {
		if override, ok := h.TryAttackHook(attacker, base); ok {
			base = override
		}
	}

	// 5. Armor reduction, floor 1.
	armor := 0
	if h.ArmorClass != nil {
		armor = h.ArmorClass(defender)
	}
	damage := base - armor
	if damage < 1 {
		damage = 1
	}

	// 6. Defend hook override, clamped to >= 1.
	if h.TryDefendHook != nil {
		if override, ok := h.TryDefendHook(defender, attacker, damage); ok {
			damage = override
			if damage < 1 {
				damage = 1
			}
		}
	}

	// 7. Narration.
	roomID := ""
	if h.RoomOf != nil {
		roomID, _ = h.RoomOf(attacker)
	}
	if h.DeliverRoundMessages != nil {
		h.DeliverRoundMessages(attacker, defender, roomID, damage)
	}

	// 8. Apply damage, update cadence.
	alive := true
	if h.TakeDamage != nil {
		alive = h.TakeDamage(defender, damage, attacker)
	}
	s.mu.Lock()
	if live, ok := s.sessions[attacker]; ok && live == sess {
		live.LastRoundAt = now
	}
	s.mu.Unlock()

	// 9. Death bookkeeping.
	if !alive {
		s.EndCombat(attacker)
		return Death{AttackerID: attacker, DefenderID: defender}, true
	}
	return Death{}, false
}

func (s *Scheduler) rollBase(attackerID string, h Hooks) int {
	min, max := 1, 2
	if h.WeaponRange != nil {
		if wMin, wMax, ok := h.WeaponRange(attackerID); ok {
			min, max = wMin, wMax
		}
	}
	if max <= min {
		return min
	}
	s.mu.Lock()
	roll := min + s.rng.Intn(max-min+1)
	s.mu.Unlock()
	return roll
}

// AttemptFlee picks a uniformly random exit of x's current room with 50%
// probability; on success it ends combat for x and returns the exit
// direction.
func (s *Scheduler) AttemptFlee(x string, h Hooks) (direction string, fled bool) {
	if h.RoomOf == nil || h.Exits == nil {
		return "", false
	}
	room, ok := h.RoomOf(x)
	if !ok {
		return "", false
	}
	exits := h.Exits(room)
	if len(exits) == 0 {
		return "", false
	}

	s.mu.Lock()
	succeed := s.rng.Intn(2) == 0
	idx := s.rng.Intn(len(exits))
	s.mu.Unlock()

	if !succeed {
		return "", false
	}
	s.EndCombat(x)
	return exits[idx], true
}

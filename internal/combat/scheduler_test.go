package combat

import (
	"testing"
	"time"
)

func alwaysAliveHooks() Hooks {
	return Hooks{
		IsAlive:       func(string) bool { return true },
		SameContainer: func(string, string) bool { return true },
		WeaponRange:   func(string) (int, int, bool) { return 5, 5, true },
		ArmorClass:    func(string) int { return 0 },
		TakeDamage:    func(string, int, string) bool { return true },
	}
}

func TestStartCombatRegistersSession(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.StartCombat("alice", "goblin", now)

	if !s.IsInCombat("alice") {
		t.Fatal("expected alice in combat")
	}
	sess, ok := s.SessionFor("alice")
	if !ok || sess.DefenderID != "goblin" {
		t.Fatalf("expected session against goblin, got %+v ok=%v", sess, ok)
	}
}

func TestProcessRoundsRespectsRoundInterval(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.StartCombat("alice", "goblin", now)

	var hits int
	h := alwaysAliveHooks()
	h.TakeDamage = func(string, int, string) bool { hits++; return true }

	s.ProcessRounds(now.Add(1*time.Second), h)
	if hits != 0 {
		t.Fatalf("expected no round before ROUND_INTERVAL elapses, got %d hits", hits)
	}
	s.ProcessRounds(now.Add(ROUND_INTERVAL), h)
	if hits != 1 {
		t.Fatalf("expected exactly one round at the interval boundary, got %d", hits)
	}
}

func TestProcessRoundsEndsCombatOnDeath(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.StartCombat("alice", "goblin", now)

	h := alwaysAliveHooks()
	h.TakeDamage = func(string, int, string) bool { return false }

	deaths := s.ProcessRounds(now.Add(ROUND_INTERVAL), h)
	if len(deaths) != 1 || deaths[0].AttackerID != "alice" || deaths[0].DefenderID != "goblin" {
		t.Fatalf("expected one death alice->goblin, got %+v", deaths)
	}
	if s.IsInCombat("alice") {
		t.Fatal("expected combat ended after a death")
	}
}

func TestProcessRoundsEndsCombatWhenCombatantMissing(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.StartCombat("alice", "goblin", now)

	h := alwaysAliveHooks()
	h.IsAlive = func(id string) bool { return id != "goblin" }

	deaths := s.ProcessRounds(now.Add(ROUND_INTERVAL), h)
	if len(deaths) != 0 {
		t.Fatalf("expected no recorded death for a vanished combatant, got %+v", deaths)
	}
	if s.IsInCombat("alice") {
		t.Fatal("expected combat ended when a combatant is no longer alive")
	}
}

func TestProcessRoundsEndsCombatWhenTargetLeavesRoom(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.StartCombat("alice", "goblin", now)

	var leftNotified string
	h := alwaysAliveHooks()
	h.SameContainer = func(string, string) bool { return false }
	h.DeliverTargetLeft = func(attackerID string) { leftNotified = attackerID }

	s.ProcessRounds(now.Add(ROUND_INTERVAL), h)
	if leftNotified != "alice" {
		t.Fatalf("expected alice notified of target leaving, got %q", leftNotified)
	}
	if s.IsInCombat("alice") {
		t.Fatal("expected combat ended when defender leaves the room")
	}
}

func TestRunRoundAppliesArmorReductionFloorOne(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.StartCombat("alice", "goblin", now)

	var dealt int
	h := alwaysAliveHooks()
	h.WeaponRange = func(string) (int, int, bool) { return 3, 3, true }
	h.ArmorClass = func(string) int { return 99 } // would go negative without the floor
	h.TakeDamage = func(_ string, amount int, _ string) bool { dealt = amount; return true }

	s.ProcessRounds(now.Add(ROUND_INTERVAL), h)
	if dealt != 1 {
		t.Fatalf("expected damage floored at 1, got %d", dealt)
	}
}

func TestRunRoundHonorsAttackAndDefendHookOverrides(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.StartCombat("alice", "goblin", now)

	var dealt int
	h := alwaysAliveHooks()
	h.WeaponRange = func(string) (int, int, bool) { return 5, 5, true }
	h.ArmorClass = func(string) int { return 0 }
	h.TryAttackHook = func(_ string, base int) (int, bool) { return base + 10, true }
	h.TryDefendHook = func(_, _ string, damage int) (int, bool) { return damage - 100, true } // clamps to 1
	h.TakeDamage = func(_ string, amount int, _ string) bool { dealt = amount; return true }

	s.ProcessRounds(now.Add(ROUND_INTERVAL), h)
	if dealt != 1 {
		t.Fatalf("expected defend hook override clamped to 1, got %d", dealt)
	}
}

func TestEndCombatAlsoEndsSessionsTargetingX(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.StartCombat("alice", "goblin", now)
	s.StartCombat("bob", "goblin", now)

	s.EndCombat("goblin")

	if s.IsInCombat("alice") || s.IsInCombat("bob") {
		t.Fatal("expected ending combat for goblin to also end sessions targeting it")
	}
}

func TestAttemptFleeRequiresRoomAndExits(t *testing.T) {
	s := New()
	h := Hooks{}
	if _, fled := s.AttemptFlee("alice", h); fled {
		t.Fatal("expected no flee possible without RoomOf/Exits hooks")
	}

	h2 := Hooks{
		RoomOf: func(string) (string, bool) { return "room1", true },
		Exits:  func(string) []string { return nil },
	}
	if _, fled := s.AttemptFlee("alice", h2); fled {
		t.Fatal("expected no flee possible with zero exits")
	}
}

func TestCountReflectsActiveSessions(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	if s.Count() != 0 {
		t.Fatalf("expected 0 sessions, got %d", s.Count())
	}
	s.StartCombat("alice", "goblin", now)
	s.StartCombat("bob", "orc", now)
	if s.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", s.Count())
	}
}

package heartbeat

import (
	"testing"
	"time"
)

func TestRegisterAndGetDue(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Register("room1/orc#000001", 2*time.Second, now)

	if due := s.GetDue(now.Add(1 * time.Second)); len(due) != 0 {
		t.Fatalf("expected no fires before the interval elapses, got %v", due)
	}
	due := s.GetDue(now.Add(2 * time.Second))
	if len(due) != 1 || due[0] != "room1/orc#000001" {
		t.Fatalf("expected exactly one fire, got %v", due)
	}
}

func TestGetDueAdvancesExactlyOncePerCall(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Register("npc", 1*time.Second, now)

	due := s.GetDue(now.Add(5 * time.Second))
	if len(due) != 1 {
		t.Fatalf("expected a single fire even though 5 intervals elapsed, got %d", len(due))
	}

	// nextFire is rebased off the firing instant (now+5s)+1s, not
	// accumulated from the original schedule, so a check shortly after
	// must not re-fire yet.
	if due := s.GetDue(now.Add(5*time.Second + 500*time.Millisecond)); len(due) != 0 {
		t.Fatalf("expected no fire before the rebased interval elapses, got %v", due)
	}
	due = s.GetDue(now.Add(6 * time.Second))
	if len(due) != 1 {
		t.Fatalf("expected exactly one fire at the rebased interval boundary, got %d", len(due))
	}
}

func TestUnregisterStopsFiring(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Register("npc", 1*time.Second, now)
	s.Unregister("npc")

	if s.IsRegistered("npc") {
		t.Fatal("expected npc unregistered")
	}
	if due := s.GetDue(now.Add(10 * time.Second)); len(due) != 0 {
		t.Fatalf("expected no fires after unregister, got %v", due)
	}
}

func TestIntervalLookup(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Register("npc", 3*time.Second, now)

	d, ok := s.Interval("npc")
	if !ok || d != 3*time.Second {
		t.Fatalf("expected 3s interval, got %v ok=%v", d, ok)
	}
	if _, ok := s.Interval("unknown"); ok {
		t.Fatal("expected ok=false for an unregistered id")
	}
}

func TestGetDueOrderMatchesInsertionOrder(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Register("first", time.Second, now)
	s.Register("second", time.Second, now)
	s.Register("third", time.Second, now)

	due := s.GetDue(now.Add(time.Second))
	want := []string{"first", "second", "third"}
	if len(due) != len(want) {
		t.Fatalf("expected %d due entries, got %d", len(want), len(due))
	}
	for i, id := range want {
		if due[i] != id {
			t.Fatalf("expected insertion order %v, got %v", want, due)
		}
	}
}

func TestLenReportsRegisteredCount(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	if s.Len() != 0 {
		t.Fatalf("expected empty scheduler, got %d", s.Len())
	}
	s.Register("a", time.Second, now)
	s.Register("b", time.Second, now)
	if s.Len() != 2 {
		t.Fatalf("expected 2 registered, got %d", s.Len())
	}
}

func TestReRegisterReplacesInterval(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Register("npc", time.Second, now)
	s.Register("npc", 5*time.Second, now)

	d, ok := s.Interval("npc")
	if !ok || d != 5*time.Second {
		t.Fatalf("expected re-register to replace interval with 5s, got %v", d)
	}
	if s.Len() != 1 {
		t.Fatalf("expected re-register to not duplicate the entry, got len %d", s.Len())
	}
}

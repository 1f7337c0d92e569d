package callout

import (
	"testing"
	"time"
)

func TestScheduleFiresAfterDelay(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Schedule(now, "npc", "wander", 2*time.Second)

	if due := s.GetDue(now.Add(1 * time.Second)); len(due) != 0 {
		t.Fatalf("expected no fires before delay elapses, got %v", due)
	}
	due := s.GetDue(now.Add(2 * time.Second))
	if len(due) != 1 || due[0].Method != "wander" {
		t.Fatalf("expected wander to fire, got %+v", due)
	}
}

func TestFireTimeTieBreaksByInsertionOrder(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Schedule(now, "a", "first", time.Second)
	s.Schedule(now, "b", "second", time.Second)
	s.Schedule(now, "c", "third", time.Second)

	due := s.GetDue(now.Add(time.Second))
	if len(due) != 3 {
		t.Fatalf("expected 3 due entries, got %d", len(due))
	}
	want := []string{"first", "second", "third"}
	for i, m := range want {
		if due[i].Method != m {
			t.Fatalf("expected insertion-order tie-break %v, got methods in order %v", want, due)
		}
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	id := s.Schedule(now, "npc", "explode", time.Second)

	if !s.Cancel(id) {
		t.Fatal("expected first cancel to succeed")
	}
	if s.Cancel(id) {
		t.Fatal("expected cancel to be idempotent (second call returns false)")
	}

	due := s.GetDue(now.Add(time.Second))
	if len(due) != 0 {
		t.Fatalf("expected cancelled callout to not fire, got %+v", due)
	}
}

func TestCancelRaceAgainstGetDue(t *testing.T) {
	// A callout cancelled after it has already fired (dequeued by GetDue)
	// is, by construction, no longer in the id index: the cancel is a
	// harmless no-op, never a double-fire or an error.
	s := New()
	now := time.Unix(0, 0)
	id := s.Schedule(now, "npc", "explode", time.Second)

	due := s.GetDue(now.Add(time.Second))
	if len(due) != 1 {
		t.Fatalf("expected the callout to fire, got %+v", due)
	}
	if s.Cancel(id) {
		t.Fatal("expected a late cancel on an already-fired callout to return false")
	}
}

func TestCancelAllForTarget(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.Schedule(now, "npc", "a", time.Second)
	s.Schedule(now, "npc", "b", time.Second)
	s.Schedule(now, "other", "c", time.Second)

	n := s.CancelAllForTarget("npc")
	if n != 2 {
		t.Fatalf("expected 2 cancelled, got %d", n)
	}

	due := s.GetDue(now.Add(time.Second))
	if len(due) != 1 || due[0].TargetID != "other" {
		t.Fatalf("expected only other's callout to survive, got %+v", due)
	}
}

func TestScheduleEveryReschedulesUnderNewID(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	id := s.ScheduleEvery(now, "npc", "tick", time.Second)

	if s.PendingCount() != 1 {
		t.Fatalf("expected 1 pending entry, got %d", s.PendingCount())
	}

	first := s.GetDue(now.Add(time.Second))
	if len(first) != 1 || first[0].ID != id {
		t.Fatalf("expected the original id to fire once, got %+v", first)
	}

	// The repeating occurrence is already live under a fresh id.
	if s.PendingCount() != 1 {
		t.Fatalf("expected the repeat to be rescheduled, pending count = %d", s.PendingCount())
	}

	second := s.GetDue(now.Add(2 * time.Second))
	if len(second) != 1 {
		t.Fatalf("expected the repeat to fire at the next interval, got %+v", second)
	}
	if second[0].ID == id {
		t.Fatal("expected the repeat occurrence to carry a fresh id")
	}
}

func TestCancelRepeatingStopsFutureOccurrences(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	id := s.ScheduleEvery(now, "npc", "tick", time.Second)

	if !s.Cancel(id) {
		t.Fatal("expected cancel to succeed before the first fire")
	}
	due := s.GetDue(now.Add(10 * time.Second))
	if len(due) != 0 {
		t.Fatalf("expected no occurrences after cancelling before the first fire, got %+v", due)
	}
}

func TestPendingCountReflectsLiveEntries(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	if s.PendingCount() != 0 {
		t.Fatalf("expected 0 pending, got %d", s.PendingCount())
	}
	s.Schedule(now, "npc", "a", time.Second)
	s.Schedule(now, "npc", "b", 2*time.Second)
	if s.PendingCount() != 2 {
		t.Fatalf("expected 2 pending, got %d", s.PendingCount())
	}
	s.GetDue(now.Add(time.Second))
	if s.PendingCount() != 1 {
		t.Fatalf("expected 1 pending after one fires, got %d", s.PendingCount())
	}
}

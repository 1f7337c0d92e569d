package container

import "testing"

func TestAddPlacesMember(t *testing.T) {
	r := New()
	r.Add("room1", "sword")

	c, ok := r.ContainerOf("sword")
	if !ok || c != "room1" {
		t.Fatalf("expected sword in room1, got %q ok=%v", c, ok)
	}
	if !r.Contains("room1", "sword") {
		t.Fatal("expected room1 to contain sword")
	}
}

func TestAddMovesFromPriorContainer(t *testing.T) {
	r := New()
	r.Add("room1", "sword")
	r.Add("room2", "sword")

	if r.Contains("room1", "sword") {
		t.Fatal("sword should no longer be in room1")
	}
	if !r.Contains("room2", "sword") {
		t.Fatal("sword should be in room2")
	}
	if r.Count("room1") != 0 {
		t.Fatalf("expected room1 empty, got count %d", r.Count("room1"))
	}
}

func TestRemoveNonExistentIsNoOp(t *testing.T) {
	r := New()
	r.Remove("nobody") // must not panic
	if _, ok := r.ContainerOf("nobody"); ok {
		t.Fatal("expected no container for a never-added member")
	}
}

func TestRemoveClearsForwardAndInverse(t *testing.T) {
	r := New()
	r.Add("room1", "sword")
	r.Remove("sword")

	if _, ok := r.ContainerOf("sword"); ok {
		t.Fatal("expected sword to have no container after Remove")
	}
	if r.Contains("room1", "sword") {
		t.Fatal("expected room1 to no longer contain sword")
	}
}

func TestMoveIsAddUnderAnotherName(t *testing.T) {
	r := New()
	r.Add("room1", "player")
	r.Move("player", "room2")

	if !r.Contains("room2", "player") {
		t.Fatal("expected player moved into room2")
	}
}

func TestSameContainer(t *testing.T) {
	r := New()
	r.Add("room1", "alice")
	r.Add("room1", "bob")
	r.Add("room2", "carol")

	if !r.SameContainer("alice", "bob") {
		t.Fatal("expected alice and bob to share a container")
	}
	if r.SameContainer("alice", "carol") {
		t.Fatal("expected alice and carol to not share a container")
	}
	if r.SameContainer("alice", "nobody") {
		t.Fatal("expected SameContainer false for an unplaced id")
	}
}

func TestContentsSnapshot(t *testing.T) {
	r := New()
	r.Add("room1", "alice")
	r.Add("room1", "bob")

	contents := r.Contents("room1")
	if len(contents) != 2 {
		t.Fatalf("expected 2 members, got %d", len(contents))
	}
	if r.Contents("emptyroom") != nil {
		t.Fatal("expected nil contents for an unknown container")
	}
}

func TestAddIntoSameContainerIsNoOp(t *testing.T) {
	r := New()
	r.Add("room1", "sword")
	r.Add("room1", "sword")

	if r.Count("room1") != 1 {
		t.Fatalf("expected exactly one membership, got count %d", r.Count("room1"))
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	r := New()
	r.Add("room1", "alice")
	r.Add("room1", "sword")
	r.Add("room2", "bob")

	snapshot := r.Export()

	fresh := New()
	fresh.Restore(snapshot)

	if !fresh.Contains("room1", "alice") || !fresh.Contains("room1", "sword") {
		t.Fatal("expected room1's members restored")
	}
	if !fresh.Contains("room2", "bob") {
		t.Fatal("expected room2's members restored")
	}
	c, ok := fresh.ContainerOf("alice")
	if !ok || c != "room1" {
		t.Fatalf("expected inverse map restored for alice, got %q ok=%v", c, ok)
	}
}

func TestRestoreDiscardsPriorContents(t *testing.T) {
	r := New()
	r.Add("room1", "stale")

	r.Restore(map[string][]string{"room2": {"fresh"}})

	if r.Contains("room1", "stale") {
		t.Fatal("expected stale contents discarded by Restore")
	}
	if !r.Contains("room2", "fresh") {
		t.Fatal("expected restored contents present")
	}
}

package statestore

import (
	"encoding/json"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	s.Set("hp", IntValue(42))

	v, ok := s.Get("hp")
	if !ok || v.Kind != KindInt || v.Int != 42 {
		t.Fatalf("unexpected value: %#v ok=%v", v, ok)
	}
}

func TestTypedGettersReturnDefaultOnMismatch(t *testing.T) {
	s := New()
	s.SetString("name", "alice")

	if got := s.GetInt("name", -1); got != -1 {
		t.Fatalf("expected default for kind mismatch, got %d", got)
	}
	if got := s.GetString("name", ""); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
	if got := s.GetBool("missing", true); got != true {
		t.Fatalf("expected default true for missing key, got %v", got)
	}
}

func TestGetIntAcceptsFloat(t *testing.T) {
	s := New()
	s.SetFloat("hp", 7.0)
	if got := s.GetInt("hp", 0); got != 7 {
		t.Fatalf("expected GetInt to coerce float, got %d", got)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	s := New()
	s.SetInt("hp", 10)
	s.Delete("hp")
	if _, ok := s.Get("hp"); ok {
		t.Fatal("expected hp removed")
	}
	s.Delete("hp") // no-op, must not panic
}

func TestKeysSorted(t *testing.T) {
	s := New()
	s.SetInt("zeta", 1)
	s.SetInt("alpha", 2)
	s.SetInt("mid", 3)

	keys := s.Keys()
	want := []string{"alpha", "mid", "zeta"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("expected sorted keys %v, got %v", want, keys)
		}
	}
}

func TestMarshalJSONProjectsDeterministically(t *testing.T) {
	s := New()
	s.SetInt("hp", 10)
	s.SetString("name", "alice")

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"hp":10,"name":"alice"}` {
		t.Fatalf("unexpected projection: %s", data)
	}
}

func TestUnmarshalJSONRestoresTypedValues(t *testing.T) {
	s := New()
	if err := json.Unmarshal([]byte(`{"hp":10,"name":"alice","flag":true}`), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.GetInt("hp", -1); got != 10 {
		t.Fatalf("expected hp=10, got %d", got)
	}
	if got := s.GetString("name", ""); got != "alice" {
		t.Fatalf("expected name=alice, got %q", got)
	}
	if got := s.GetBool("flag", false); got != true {
		t.Fatalf("expected flag=true, got %v", got)
	}
}

func TestLoadSnapshotReplacesContents(t *testing.T) {
	s := New()
	s.SetInt("stale", 1)

	s.LoadSnapshot(map[string]Value{"fresh": StringValue("hi")})

	if _, ok := s.Get("stale"); ok {
		t.Fatal("expected stale key discarded")
	}
	if got := s.GetString("fresh", ""); got != "hi" {
		t.Fatalf("expected fresh=hi, got %q", got)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := New()
	s.SetInt("hp", 10)

	snap := s.Snapshot()
	s.SetInt("hp", 20)

	if snap["hp"].Int != 10 {
		t.Fatalf("expected snapshot frozen at 10, got %d", snap["hp"].Int)
	}
}

func TestLenReportsKeyCount(t *testing.T) {
	s := New()
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got len %d", s.Len())
	}
	s.SetInt("a", 1)
	s.SetInt("b", 2)
	if s.Len() != 2 {
		t.Fatalf("expected len 2, got %d", s.Len())
	}
}

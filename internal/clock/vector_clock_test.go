package clock

import (
	"testing"
)

func TestIncrement(t *testing.T) {
	clock := NewVectorClock()
	clock = Increment(clock, "peer1")
	if clock["peer1"] != 1 {
		t.Errorf("Expected 1, got %d", clock["peer1"])
	}
	clock = Increment(clock, "peer1")
	if clock["peer1"] != 2 {
		t.Errorf("Expected 2, got %d", clock["peer1"])
	}
}

func TestIncrementNil(t *testing.T) {
	var clock VectorClock
	clock = Increment(clock, "peer1")
	if clock["peer1"] != 1 {
		t.Errorf("Expected 1, got %d", clock["peer1"])
	}
}

func TestMerge(t *testing.T) {
	clock1 := VectorClock{"a": 1, "b": 2}
	clock2 := VectorClock{"a": 3, "c": 4}
	merged := Merge(clock1, clock2)
	if merged["a"] != 3 || merged["b"] != 2 || merged["c"] != 4 {
		t.Errorf("Merge failed: %v", merged)
	}
}

func TestCompare(t *testing.T) {
	clock1 := VectorClock{"a": 1, "b": 2}
	clock2 := VectorClock{"a": 1, "b": 2}
	if Compare(clock1, clock2) != Equal {
		t.Error("Expected Equal")
	}

	clock3 := VectorClock{"a": 2, "b": 2}
	if Compare(clock1, clock3) != Before {
		t.Error("Expected Before")
	}

	clock4 := VectorClock{"a": 0, "b": 2}
	if Compare(clock1, clock4) != After {
		t.Error("Expected After")
	}

	clock5 := VectorClock{"a": 2, "b": 1}
	if Compare(clock1, clock5) != Concurrent {
		t.Error("Expected Concurrent")
	}
}

func TestHappensBefore(t *testing.T) {
	clock1 := VectorClock{"a": 1, "b": 2}
	clock2 := VectorClock{"a": 1, "b": 2}
	if !HappensBefore(clock1, clock2) {
		t.Error("Equal should happen before")
	}

	clock3 := VectorClock{"a": 2, "b": 2}
	if !HappensBefore(clock1, clock3) {
		t.Error("Before should happen before")
	}

	clock4 := VectorClock{"a": 0, "b": 2}
	if HappensBefore(clock1, clock4) {
		t.Error("After should not happen before")
	}
}

func TestClone(t *testing.T) {
	clock := VectorClock{"a": 1, "b": 2}
	cloned := Clone(clock)
	if cloned["a"] != 1 || cloned["b"] != 2 {
		t.Errorf("Clone failed: %v", cloned)
	}
	cloned["a"] = 3
	if clock["a"] != 1 {
		t.Error("Clone should be independent")
	}
}

func TestCloneNil(t *testing.T) {
	var clock VectorClock
	cloned := Clone(clock)
	if cloned != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestStrictlyAfter(t *testing.T) {
	reported := VectorClock{"A": 4}
	concurrent := VectorClock{"B": 1}
	if StrictlyAfter(concurrent, reported) {
		t.Error("concurrent clock should not be strictly after reported")
	}

	strictlyAfter := VectorClock{"A": 4, "B": 1}
	if !StrictlyAfter(strictlyAfter, reported) {
		t.Error("{A:4,B:1} should be strictly after {A:4}")
	}

	if StrictlyAfter(reported, reported) {
		t.Error("equal clocks are not strictly after each other")
	}
}

func TestDominates(t *testing.T) {
	clock := VectorClock{"a": 3, "b": 2}
	if !Dominates(clock, VectorClock{"a": 1, "b": 2}) {
		t.Error("{a:3,b:2} should dominate {a:1,b:2}")
	}
	if Dominates(clock, VectorClock{"a": 4}) {
		t.Error("{a:3,b:2} should not dominate {a:4}")
	}
	if !Dominates(clock, VectorClock{}) {
		t.Error("any clock dominates the empty clock")
	}
}

func TestSites(t *testing.T) {
	got := Sites(VectorClock{"b": 1, "a": 2, "c": 3})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sites, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sites()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
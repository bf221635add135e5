package document

import (
	"testing"

	"github.com/knirvcorp/collabtext/internal/clock"
	"github.com/knirvcorp/collabtext/internal/types"
)

func rec(site string, counter uint64, origin clock.VectorClock, after *types.CharID) types.CharRecord {
	return types.CharRecord{
		Value:       rune('a' + counter - 1),
		ID:          types.CharID{Site: site, Counter: counter},
		OriginClock: origin,
		Visible:     true,
		After:       after,
	}
}

func TestInsertSequentialLocalPreservesPosition(t *testing.T) {
	d := New()
	a := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	if !d.Insert(a) {
		t.Fatal("expected first insert to apply")
	}
	b := rec("A", 2, clock.VectorClock{"A": 2}, &a.ID)
	d.Insert(b)
	c := rec("A", 3, clock.VectorClock{"A": 3}, &b.ID)
	d.Insert(c)
	if d.Text() != "abc" {
		t.Fatalf("expected abc, got %q", d.Text())
	}

	// Insert X at visible position 0, anchored to nil (document start),
	// even though X's clock dominates a, b and c.
	x := rec("A", 4, clock.VectorClock{"A": 4}, d.AnchorFor(0))
	d.Insert(x)
	if d.Text() != "dabc" {
		t.Fatalf("expected new char before existing text, got %q", d.Text())
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	d := New()
	a := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	if !d.Insert(a) {
		t.Fatal("expected first insert to apply")
	}
	if d.Insert(a) {
		t.Error("re-inserting the same CharID should be a no-op")
	}
	if d.VisibleLen() != 1 {
		t.Errorf("expected visible length 1, got %d", d.VisibleLen())
	}
}

func TestConcurrentInsertSameGapIsDeterministic(t *testing.T) {
	base := rec("A", 1, clock.VectorClock{"A": 1}, nil)

	build := func(order []types.CharRecord) string {
		d := New()
		for _, r := range order {
			d.Insert(r)
		}
		return d.Text()
	}

	x := types.CharRecord{Value: 'X', ID: types.CharID{Site: "A", Counter: 2}, OriginClock: clock.VectorClock{"A": 2}, Visible: true, After: &base.ID}
	y := types.CharRecord{Value: 'Y', ID: types.CharID{Site: "B", Counter: 1}, OriginClock: clock.VectorClock{"B": 1}, Visible: true, After: &base.ID}

	forward := build([]types.CharRecord{base, x, y})
	backward := build([]types.CharRecord{base, y, x})
	if forward != backward {
		t.Fatalf("expected arrival order to not affect result: %q vs %q", forward, backward)
	}
}

func TestConcurrentInsertWithDescendantIsOrderIndependent(t *testing.T) {
	// base <- B <- C (C anchored on B, not on base), and a concurrent D
	// anchored directly on base that B outranks (Less(D, B) is true: D's
	// origin clock has no "A" component, B's does). A scan that only skips
	// B itself — not B's whole subtree, which by the time D arrives
	// already contains C — would place D between B and C in one arrival
	// order and after C in another. D must land in the same place either
	// way: right after B's entire subtree.
	base := types.CharRecord{Value: 'a', ID: types.CharID{Site: "A", Counter: 1}, OriginClock: clock.VectorClock{"A": 1}, Visible: true}
	b := types.CharRecord{Value: 'B', ID: types.CharID{Site: "A", Counter: 2}, OriginClock: clock.VectorClock{"A": 2}, Visible: true, After: &base.ID}
	c := types.CharRecord{Value: 'C', ID: types.CharID{Site: "A", Counter: 3}, OriginClock: clock.VectorClock{"A": 3}, Visible: true, After: &b.ID}
	d := types.CharRecord{Value: 'D', ID: types.CharID{Site: "B", Counter: 1}, OriginClock: clock.VectorClock{"B": 1}, Visible: true, After: &base.ID}

	if !Less(d, b) {
		t.Fatal("test setup invalid: expected Less(d, b) to hold")
	}

	build := func(order []types.CharRecord) string {
		doc := New()
		for _, r := range order {
			doc.Insert(r)
		}
		return doc.Text()
	}

	forward := build([]types.CharRecord{base, b, c, d})
	backward := build([]types.CharRecord{base, b, d, c})
	if forward != backward {
		t.Fatalf("expected delivery order to not affect result: %q vs %q", forward, backward)
	}
	if forward != "aBCD" {
		t.Fatalf("expected D placed after B's whole subtree, got %q", forward)
	}
}

func TestDeleteBeforeInsertBuffers(t *testing.T) {
	d := New()
	target := types.CharID{Site: "A", Counter: 1}

	applied, buffered := d.DeleteByID(target, clock.VectorClock{"B": 1})
	if applied || !buffered {
		t.Fatal("expected delete-before-insert to buffer, not apply")
	}

	r := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	d.Insert(r)
	if d.VisibleLen() != 0 {
		t.Errorf("expected buffered delete to apply once insert arrives, visible len = %d", d.VisibleLen())
	}
	if d.Text() != "" {
		t.Errorf("expected empty text, got %q", d.Text())
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	d := New()
	r := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	d.Insert(r)
	applied, _ := d.DeleteByID(r.ID, clock.VectorClock{"A": 1})
	if !applied {
		t.Fatal("expected first delete to apply")
	}
	applied, buffered := d.DeleteByID(r.ID, clock.VectorClock{"A": 1})
	if applied || buffered {
		t.Error("re-deleting a tombstone should be a no-op")
	}
}

func TestGCRefusesWithoutPeerClocks(t *testing.T) {
	d := New()
	r := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	d.Insert(r)
	d.DeleteByID(r.ID, clock.VectorClock{"A": 1})

	removed, err := d.GC(0, nil, false)
	if err == nil {
		t.Fatal("expected GC to refuse with no peer clocks")
	}
	if removed != 0 {
		t.Errorf("expected 0 removed, got %d", removed)
	}
}

func TestGCRemovesStableTombstones(t *testing.T) {
	d := New()
	r := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	d.Insert(r)
	d.DeleteByID(r.ID, clock.VectorClock{"A": 1})

	removed, err := d.GC(0, []clock.VectorClock{{"A": 1}, {"A": 2, "B": 1}}, false)
	if err != nil {
		t.Fatalf("expected GC to succeed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 tombstone removed, got %d", removed)
	}
	if d.Len() != 0 {
		t.Errorf("expected empty document after GC, len = %d", d.Len())
	}
}

func TestGCKeepsRecentTombstones(t *testing.T) {
	d := New()
	r := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	d.Insert(r)
	d.DeleteByID(r.ID, clock.VectorClock{"A": 1})

	removed, err := d.GC(1, []clock.VectorClock{{"A": 1}}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected keepRecent to retain the only tombstone, removed %d", removed)
	}
}

func TestGCForceSkipsSafetyCheck(t *testing.T) {
	d := New()
	r := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	d.Insert(r)
	d.DeleteByID(r.ID, clock.VectorClock{"A": 1})

	removed, err := d.GC(0, nil, true)
	if err != nil {
		t.Fatalf("unexpected error with force: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected force GC to remove the tombstone, removed %d", removed)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	d := New()
	a := rec("A", 1, clock.VectorClock{"A": 1}, nil)
	d.Insert(a)
	b := rec("A", 2, clock.VectorClock{"A": 2}, &a.ID)
	d.Insert(b)

	snap := d.Snapshot()
	d2 := New()
	d2.Restore(snap)
	if d2.Text() != d.Text() {
		t.Fatalf("expected restored document to match: %q vs %q", d2.Text(), d.Text())
	}
	if d2.VisibleLen() != d.VisibleLen() {
		t.Errorf("expected matching visible length, got %d vs %d", d2.VisibleLen(), d.VisibleLen())
	}
}

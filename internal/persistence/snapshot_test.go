package persistence

import (
	"path/filepath"
	"testing"

	"github.com/knirvcorp/collabtext/internal/clock"
	"github.com/knirvcorp/collabtext/internal/document"
	"github.com/knirvcorp/collabtext/internal/types"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "doc.json")

	doc := document.New()
	a := types.CharRecord{Value: 'h', ID: types.CharID{Site: "A", Counter: 1}, OriginClock: clock.VectorClock{"A": 1}, Visible: true}
	doc.Insert(a)
	b := types.CharRecord{Value: 'i', ID: types.CharID{Site: "A", Counter: 2}, OriginClock: clock.VectorClock{"A": 2}, Visible: true, After: &a.ID}
	doc.Insert(b)

	if err := Save(path, "A", doc, clock.VectorClock{"A": 2}, 3); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := document.New()
	clk, counter, err := Restore(path, "A", restored)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Text() != "hi" {
		t.Errorf("expected restored text 'hi', got %q", restored.Text())
	}
	if clk["A"] != 2 {
		t.Errorf("expected clock A=2, got %v", clk)
	}
	if counter != 3 {
		t.Errorf("expected counter 3, got %d", counter)
	}
}

func TestLoadMissingFileReturnsEmptySnapshot(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "missing.json"), "A")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(snap.Records) != 0 {
		t.Errorf("expected empty records, got %d", len(snap.Records))
	}
	if snap.Site != "A" {
		t.Errorf("expected site A, got %s", snap.Site)
	}
}

func TestLoadRecomputesCounterFromRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	doc := document.New()
	a := types.CharRecord{Value: 'x', ID: types.CharID{Site: "A", Counter: 7}, OriginClock: clock.VectorClock{"A": 7}, Visible: true}
	doc.Insert(a)
	if err := Save(path, "A", doc, clock.VectorClock{"A": 7}, 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	snap, err := Load(path, "A")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.Counter != 8 {
		t.Errorf("expected recomputed counter 8, got %d", snap.Counter)
	}
}

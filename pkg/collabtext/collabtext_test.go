package collabtext

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRejectsEmptySite(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty Site")
	}
}

func TestInsertDeleteAndText(t *testing.T) {
	d, err := New(context.Background(), Options{Site: "A"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Shutdown()

	if _, err := d.Insert(0, 'h'); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := d.Insert(1, 'i'); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := d.Text(); got != "hi" {
		t.Fatalf("expected %q, got %q", "hi", got)
	}

	if _, err := d.Delete(0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := d.Text(); got != "i" {
		t.Fatalf("expected %q, got %q", "i", got)
	}
}

func TestStandaloneDocsDoNotConverge(t *testing.T) {
	a, err := New(context.Background(), Options{Site: "A"})
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	defer a.Shutdown()
	b, err := New(context.Background(), Options{Site: "B"})
	if err != nil {
		t.Fatalf("New B: %v", err)
	}
	defer b.Shutdown()

	a.Insert(0, 'x')
	if b.Text() != "" {
		t.Fatalf("expected standalone docs to stay isolated, got %q", b.Text())
	}
}

func TestSnapshotPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	d, err := New(context.Background(), Options{Site: "A", DataDir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.Insert(0, 'h')
	d.Insert(1, 'i')
	if err := d.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	path := filepath.Join(dir, "A.json")
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected snapshot file at %s: %v", path, statErr)
	}

	restored, err := New(context.Background(), Options{Site: "A", DataDir: dir})
	if err != nil {
		t.Fatalf("restore New failed: %v", err)
	}
	defer restored.Shutdown()
	if got := restored.Text(); got != "hi" {
		t.Fatalf("expected restored text %q, got %q", "hi", got)
	}
}

func TestTCPConnectAndConverge(t *testing.T) {
	a, err := New(context.Background(), Options{Site: "A", ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	defer a.Shutdown()
	b, err := New(context.Background(), Options{Site: "B", ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New B: %v", err)
	}
	defer b.Shutdown()

	if _, err := a.Connect(b.Addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	a.Insert(0, 'h')
	a.Insert(1, 'i')

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.Text() == "hi" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := b.Text(); got != "hi" {
		t.Fatalf("expected B to converge to %q, got %q", "hi", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	a, err := New(context.Background(), Options{Site: "A", ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	defer a.Shutdown()
	b, err := New(context.Background(), Options{Site: "B", ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New B: %v", err)
	}
	defer b.Shutdown()

	if _, err := a.Connect(b.Addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	a.ReportCursor(0, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := b.TransformedCursor("A"); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := b.TransformedCursor("A"); !ok {
		t.Fatal("expected B to have observed A's cursor report")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	d, err := New(context.Background(), Options{Site: "A"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Fatalf("second shutdown should be a no-op, got: %v", err)
	}
}

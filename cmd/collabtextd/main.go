// Command collabtextd is a demonstration binary: it starts two
// collaborative-editing replicas in one process, connects them over the
// real TCP transport, has each make a local edit, and prints the
// converged document once both sides have applied the other's
// operations.
//
// Grounded on the teacher's cmd/main.go lifecycle shape
// (context.Background(), an Options struct per component, New, defer
// Shutdown(), a short scripted demo, then block forever) — narrowed
// from a KNIRVQL walkthrough to a two-replica convergence walkthrough.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/knirvcorp/collabtext/internal/types"
	"github.com/knirvcorp/collabtext/pkg/collabtext"
)

func main() {
	ctx := context.Background()

	baseDir := os.Getenv("XDG_DATA_HOME")
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("collabtextd: resolve home dir: %v", err)
		}
		baseDir = filepath.Join(home, ".local", "share")
	}
	dataDir := filepath.Join(baseDir, "collabtext")

	alice, err := collabtext.New(ctx, collabtext.Options{
		Site:               "alice",
		DataDir:            filepath.Join(dataDir, "alice"),
		ListenAddr:         "127.0.0.1:0",
		TracingServiceName: "collabtextd-alice",
	})
	if err != nil {
		log.Fatalf("collabtextd: start alice: %v", err)
	}
	defer alice.Shutdown()

	bob, err := collabtext.New(ctx, collabtext.Options{
		Site:               "bob",
		DataDir:            filepath.Join(dataDir, "bob"),
		ListenAddr:         "127.0.0.1:0",
		TracingServiceName: "collabtextd-bob",
	})
	if err != nil {
		log.Fatalf("collabtextd: start bob: %v", err)
	}
	defer bob.Shutdown()

	if _, err := alice.Connect(bob.Addr()); err != nil {
		log.Fatalf("collabtextd: connect alice -> bob: %v", err)
	}

	fmt.Println("collabtextd: two replicas connected over TCP")

	for i, r := range []rune("hello") {
		if _, err := alice.Insert(uint32(i), r); err != nil {
			log.Fatalf("collabtextd: alice insert: %v", err)
		}
	}
	if _, err := bob.Insert(0, '>'); err != nil {
		log.Fatalf("collabtextd: bob insert: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if alice.Text() == bob.Text() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("alice: %q\n", alice.Text())
	fmt.Printf("bob:   %q\n", bob.Text())
	if alice.Text() != bob.Text() {
		log.Fatal("collabtextd: replicas failed to converge")
	}
	fmt.Println("collabtextd: converged")

	bob.ReportCursor(0, &types.Selection{Start: 0, End: 3})
	time.Sleep(100 * time.Millisecond)
	if pos, ok := alice.TransformedCursor("bob"); ok {
		fmt.Printf("alice sees bob's cursor transformed to position %d\n", pos)
	}
}

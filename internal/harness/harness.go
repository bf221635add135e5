// Package harness wires several replica.Replica instances together over
// a shared network.MemoryBus, in one process with no sockets — for
// tests and for demonstrating convergence end to end (spec §9 asks for
// exactly this: "a test harness that runs N replicas in one process").
//
// Grounded on the teacher's DistributedDatabase
// (internal/database/distributed_database.go): a registry keyed by name
// (there, collections sharing one Network; here, replicas sharing one
// MemoryBus) that hands out members lazily and shuts them all down
// together.
package harness

import (
	"fmt"
	"sync"

	"github.com/knirvcorp/collabtext/internal/document"
	"github.com/knirvcorp/collabtext/internal/network"
	"github.com/knirvcorp/collabtext/internal/replica"
	"github.com/knirvcorp/collabtext/internal/types"
)

// Harness is a registry of named replicas sharing one in-memory network.
type Harness struct {
	bus *network.MemoryBus

	mu       sync.Mutex
	replicas map[types.SiteID]*replica.Replica
}

// New returns an empty harness.
func New() *Harness {
	return &Harness{
		bus:      network.NewMemoryBus(),
		replicas: make(map[types.SiteID]*replica.Replica),
	}
}

// AddReplica creates, attaches and registers a new replica for site. It
// is an error to add the same site twice.
func (h *Harness) AddReplica(site types.SiteID, opts replica.Options) (*replica.Replica, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.replicas[site]; exists {
		return nil, fmt.Errorf("collabtext: replica %q already registered", site)
	}

	opts.Site = site
	r := replica.New(document.New(), opts)
	if err := r.AttachTransport(h.bus.NewTransport(site)); err != nil {
		return nil, err
	}
	h.replicas[site] = r
	return r, nil
}

// Replica returns the registered replica for site, if any.
func (h *Harness) Replica(site types.SiteID) (*replica.Replica, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.replicas[site]
	return r, ok
}

// Replicas returns every registered replica, in no particular order.
func (h *Harness) Replicas() []*replica.Replica {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*replica.Replica, 0, len(h.replicas))
	for _, r := range h.replicas {
		out = append(out, r)
	}
	return out
}

// Converged reports whether every registered replica currently renders
// identical document text — the harness's one-line answer to "did the
// system converge" that spec §8's scenarios check after letting
// envelopes settle.
func (h *Harness) Converged() bool {
	replicas := h.Replicas()
	if len(replicas) < 2 {
		return true
	}
	want := replicas[0].Text()
	for _, r := range replicas[1:] {
		if r.Text() != want {
			return false
		}
	}
	return true
}

// Shutdown closes every registered replica's transport.
func (h *Harness) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for _, r := range h.replicas {
		if err := r.CloseTransport(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.replicas = make(map[types.SiteID]*replica.Replica)
	return firstErr
}

package network

import (
	"sync"

	"github.com/knirvcorp/collabtext/internal/types"
)

// MemoryBus is a shared rendezvous point for MemoryTransports in the
// same process — the transport-agnostic stand-in for a real network
// used by internal/harness and by tests that need several replicas
// exchanging envelopes without sockets (spec §9).
type MemoryBus struct {
	mu        sync.RWMutex
	endpoints map[types.SiteID]*MemoryTransport
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{endpoints: make(map[types.SiteID]*MemoryTransport)}
}

// NewTransport registers and returns a MemoryTransport for site on this
// bus. Every already-registered site can now reach it, and it can reach
// every already-registered site.
func (b *MemoryBus) NewTransport(site types.SiteID) *MemoryTransport {
	t := &MemoryTransport{site: site, bus: b}
	b.mu.Lock()
	b.endpoints[site] = t
	b.mu.Unlock()
	return t
}

func (b *MemoryBus) peers(except types.SiteID) []*MemoryTransport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*MemoryTransport, 0, len(b.endpoints))
	for s, t := range b.endpoints {
		if s != except {
			out = append(out, t)
		}
	}
	return out
}

func (b *MemoryBus) lookup(site types.SiteID) (*MemoryTransport, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.endpoints[site]
	return t, ok
}

func (b *MemoryBus) remove(site types.SiteID) {
	b.mu.Lock()
	delete(b.endpoints, site)
	b.mu.Unlock()
}

// MemoryTransport implements Transport by handing envelopes directly to
// peer handlers on a shared MemoryBus. Delivery runs synchronously on
// the caller's goroutine by default, which is what lets tests assert on
// document state immediately after Broadcast/Send returns without a
// race; call Async() to opt into per-delivery goroutines when modelling
// real network interleaving.
type MemoryTransport struct {
	site  types.SiteID
	bus   *MemoryBus
	async bool

	mu      sync.RWMutex
	handler EnvelopeHandler
	closed  bool
}

// Async makes subsequent Broadcast/Send calls deliver on separate
// goroutines instead of synchronously.
func (t *MemoryTransport) Async() *MemoryTransport {
	t.async = true
	return t
}

func (t *MemoryTransport) deliver(to *MemoryTransport, env types.Envelope) {
	do := func() {
		to.mu.RLock()
		h := to.handler
		closed := to.closed
		to.mu.RUnlock()
		if !closed && h != nil {
			h(t.site, env)
		}
	}
	if t.async {
		go do()
	} else {
		do()
	}
}

// Broadcast delivers env to every other registered site on the bus.
func (t *MemoryTransport) Broadcast(env types.Envelope) error {
	for _, peer := range t.bus.peers(t.site) {
		t.deliver(peer, env)
	}
	return nil
}

// Send delivers env to one site, or ErrUnknownPeer if it is not (or no
// longer) registered on the bus.
func (t *MemoryTransport) Send(to types.SiteID, env types.Envelope) error {
	peer, ok := t.bus.lookup(to)
	if !ok {
		return types.ErrUnknownPeer
	}
	t.deliver(peer, env)
	return nil
}

// OnReceive registers the callback invoked for every inbound Envelope.
func (t *MemoryTransport) OnReceive(handler EnvelopeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Peers returns every other site currently registered on the bus.
func (t *MemoryTransport) Peers() []types.SiteID {
	peers := t.bus.peers(t.site)
	out := make([]types.SiteID, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.site)
	}
	return out
}

// Close unregisters this site from the bus.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.bus.remove(t.site)
	return nil
}

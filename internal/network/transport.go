// Package network provides the transport layer collabtext replicas
// exchange Envelopes over (spec §6): a narrow interface the replica
// event loop depends on, with a real TCP implementation and an
// in-memory one for tests and single-process demos.
package network

import "github.com/knirvcorp/collabtext/internal/types"

// EnvelopeHandler is invoked once per inbound Envelope. It must not
// block for long — TCPTransport calls it from a connection's read
// goroutine, and MemoryTransport calls it on the sender's goroutine
// (or a fresh goroutine after Async).
type EnvelopeHandler func(from types.SiteID, env types.Envelope)

// Transport is the whole surface a replica's event loop needs from the
// network (spec §6): broadcast to every connected peer, send to one
// peer by site id, and register the callback invoked for inbound
// envelopes. Keeping this interface narrow is what lets the CRDT core
// in internal/replica run against either TCPTransport or MemoryTransport
// unmodified.
type Transport interface {
	Broadcast(env types.Envelope) error
	Send(to types.SiteID, env types.Envelope) error
	OnReceive(handler EnvelopeHandler)
	Peers() []types.SiteID
	Close() error
}

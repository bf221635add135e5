package types

import "errors"

// The error taxonomy of spec §7. No error condition leaves the Document in
// a partially-mutated state: every mutation here is transactional with
// respect to a single inbound event or local edit.
var (
	// ErrMalformedEnvelope: inbound bytes failed to parse, or reference an
	// unknown envelope kind. The envelope is dropped; a counter is
	// incremented; nothing is surfaced to the document.
	ErrMalformedEnvelope = errors.New("collabtext: malformed envelope")

	// ErrGCUnsafe: a non-forced GC request was refused because no peer
	// clocks are known, so no tombstone can be shown causally stable (spec
	// §4.6). When peer clocks are known, unstable tombstones are skipped
	// rather than refused.
	ErrGCUnsafe = errors.New("collabtext: gc refused: tombstones not causally stable")

	// ErrAlreadyAttached: AttachTransport called twice.
	ErrAlreadyAttached = errors.New("collabtext: replica already attached to a transport")

	// ErrUnknownPeer: Transport.Send targeted a peer the transport has no
	// connection for.
	ErrUnknownPeer = errors.New("collabtext: unknown peer")
)

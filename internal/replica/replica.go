// Package replica implements the single-threaded collaborative-editing
// event loop of spec §5: local edits, inbound envelopes and retry ticks
// are each processed to completion under one mutex, so the document, the
// vector clock and the delivery bookkeeping never observe a partial
// transition from another goroutine's concurrent call.
//
// Grounded on the teacher's DistributedCollection (internal/collection/
// distributed_collection.go): Insert/Update/Delete building a
// CRDTOperation, bumping a local vector and broadcasting it;
// handleRemoteOperation applying an inbound op and merging its vector.
// Replica generalizes that from whole-document upsert/delete to
// character-level CRDT operations, and adds the ack/retry/dedup layer
// spec §4.4 requires that the teacher's fire-and-forget broadcast did
// not have.
package replica

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knirvcorp/collabtext/internal/clock"
	"github.com/knirvcorp/collabtext/internal/document"
	"github.com/knirvcorp/collabtext/internal/logging"
	"github.com/knirvcorp/collabtext/internal/monitoring"
	"github.com/knirvcorp/collabtext/internal/network"
	"github.com/knirvcorp/collabtext/internal/types"
)

// Options configures a Replica. Site is required; everything else has a
// workable default.
type Options struct {
	Site types.SiteID

	Logger  *logging.Logger
	Metrics *monitoring.Metrics

	// MaxSeenIDs bounds the dedup cache (spec §4.6 "drop the oldest
	// half"). Zero selects a default of 4096.
	MaxSeenIDs int

	// MaxRetries is how many times an unacked envelope is retransmitted
	// before OnDeliveryFailure is invoked and the envelope is dropped.
	// Zero selects a default of 5.
	MaxRetries int

	// RetryInterval is the first retransmit backoff; it doubles on each
	// subsequent attempt up to MaxRetryInterval. Zero selects 500ms /
	// 30s respectively.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	// OnDeliveryFailure, if set, is called (outside the replica's lock)
	// whenever an envelope exhausts MaxRetries.
	OnDeliveryFailure func(types.Envelope)

	// InitialClock and InitialCounter resume a replica from persisted
	// state (internal/persistence). Both default to zero values for a
	// brand new replica.
	InitialClock   clock.VectorClock
	InitialCounter uint64
}

// pendingAck is one outstanding delivery awaiting acknowledgement.
type pendingAck struct {
	env        types.Envelope
	to         types.SiteID // zero value: broadcast to every peer
	broadcast  bool
	attempts   int
	nextRetry  time.Time
	createdAt  time.Time
}

// loggedOp is one applied Insert/Delete, kept around so TransformedCursor
// can replay operations a peer's last-reported cursor predates (spec
// §4.5).
type loggedOp struct {
	clock    clock.VectorClock
	kind     types.OperationKind
	position uint32
}

// maxOpLog bounds the replay log memory (spec §4.5 is explicitly "best
// effort"; a cursor report old enough to fall off this log just keeps
// its last known position instead of being transformed).
const maxOpLog = 4096

// Replica is one site's view of the document plus everything needed to
// exchange operations with peers: the vector clock, the outstanding-ack
// table, the dedup cache, and the cursor-transform log.
type Replica struct {
	site types.SiteID

	log     *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	doc     *document.Document
	clk     clock.VectorClock
	counter uint64

	transport network.Transport
	online    bool
	outbox    []types.Envelope

	seen       map[string]uint64
	seenOrder  uint64
	maxSeenIDs int

	pending          map[string]*pendingAck
	maxRetries       int
	retryInterval    time.Duration
	maxRetryInterval time.Duration
	onFailure        func(types.Envelope)

	cursors    map[types.SiteID]types.CursorReport
	peerClocks map[types.SiteID]clock.VectorClock

	opLog []loggedOp
}

// New constructs a Replica over a fresh (or restored) Document.
func New(doc *document.Document, opts Options) *Replica {
	if opts.MaxSeenIDs <= 0 {
		opts.MaxSeenIDs = 4096
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.MaxRetryInterval <= 0 {
		opts.MaxRetryInterval = 30 * time.Second
	}
	clk := opts.InitialClock
	if clk == nil {
		clk = clock.NewVectorClock()
	}
	return &Replica{
		site:             opts.Site,
		log:              opts.Logger,
		metrics:          opts.Metrics,
		doc:              doc,
		clk:              clk,
		counter:          opts.InitialCounter,
		online:           true,
		seen:             make(map[string]uint64),
		maxSeenIDs:       opts.MaxSeenIDs,
		pending:          make(map[string]*pendingAck),
		maxRetries:       opts.MaxRetries,
		retryInterval:    opts.RetryInterval,
		maxRetryInterval: opts.MaxRetryInterval,
		onFailure:        opts.OnDeliveryFailure,
		cursors:          make(map[types.SiteID]types.CursorReport),
		peerClocks:       make(map[types.SiteID]clock.VectorClock),
	}
}

// CloseTransport closes the attached transport, if any.
func (r *Replica) CloseTransport() error {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}

// Site returns this replica's site id.
func (r *Replica) Site() types.SiteID { return r.site }

// Document exposes the underlying Document read surface (Text,
// VisibleLen, Snapshot) without exposing its mutators.
func (r *Replica) Document() *document.Document { return r.doc }

// Text returns the current visible document text.
func (r *Replica) Text() string { return r.doc.Text() }

// Clock returns a copy of the replica's current vector clock.
func (r *Replica) Clock() clock.VectorClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clock.Clone(r.clk)
}

// Counter returns the replica's next-CharID counter value, for
// persisting alongside a document snapshot.
func (r *Replica) Counter() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// AttachTransport wires the replica to a Transport, registering the
// inbound handler. A replica can be attached to exactly one transport
// for its lifetime.
func (r *Replica) AttachTransport(t network.Transport) error {
	r.mu.Lock()
	if r.transport != nil {
		r.mu.Unlock()
		return types.ErrAlreadyAttached
	}
	r.transport = t
	r.mu.Unlock()

	t.OnReceive(func(from types.SiteID, env types.Envelope) {
		result := r.ApplyInbound(from, env)
		if result.AckEnvelope != nil {
			r.transmit(*result.AckEnvelope)
		}
	})
	return nil
}

// LocalInsert inserts value at visible position and broadcasts the
// resulting Insert operation. position is clamped to [0, VisibleLen()].
func (r *Replica) LocalInsert(position uint32, value rune) (types.Operation, error) {
	r.mu.Lock()

	r.clk = clock.Increment(r.clk, r.site)
	id := types.CharID{Site: r.site, Counter: r.counter}
	r.counter++
	after := r.doc.AnchorFor(position)

	rec := types.CharRecord{
		Value:       value,
		ID:          id,
		OriginClock: clock.Clone(r.clk),
		Visible:     true,
		After:       after,
	}
	r.doc.Insert(rec)
	r.recordOpLocked(r.clk, types.OpInsert, position)

	op := types.Operation{Kind: types.OpInsert, Position: position, Clock: clock.Clone(r.clk), Record: &rec}
	env, toSend := r.dispatchLocked(op)
	r.countApplied("insert", "local")
	r.mu.Unlock()

	if toSend {
		r.transmit(env)
	}
	return op, nil
}

// LocalDelete tombstones the character at visible position and
// broadcasts the resulting Delete operation. Returns an error if
// position is at or beyond the visible length.
func (r *Replica) LocalDelete(position uint32) (types.Operation, error) {
	r.mu.Lock()

	id, ok := r.doc.CharIDAtVisible(position)
	if !ok {
		r.mu.Unlock()
		return types.Operation{}, fmt.Errorf("collabtext: delete position %d out of range", position)
	}

	r.clk = clock.Increment(r.clk, r.site)
	r.doc.DeleteByID(id, clock.Clone(r.clk))
	r.recordOpLocked(r.clk, types.OpDelete, position)

	op := types.Operation{Kind: types.OpDelete, Position: position, Clock: clock.Clone(r.clk), TargetID: &id}
	env, toSend := r.dispatchLocked(op)
	r.countApplied("delete", "local")
	r.mu.Unlock()

	if toSend {
		r.transmit(env)
	}
	return op, nil
}

// SetOnline toggles delivery. While offline, new operation envelopes and
// cursor reports are queued to the outbox instead of sent, and Tick keeps
// advancing pending_acks retry bookkeeping (attempts still count toward
// MaxRetries) without transmitting anything. SetOnline(true) transmits
// the queued outbox; entries still pending are retransmitted by later
// Ticks. Inbound envelopes are applied whether online or not.
func (r *Replica) SetOnline(online bool) {
	r.mu.Lock()
	wasOffline := !r.online
	r.online = online
	var flush []types.Envelope
	if online && wasOffline {
		flush = r.outbox
		r.outbox = nil
	}
	r.mu.Unlock()

	for _, env := range flush {
		r.transmit(env)
	}
}

// dispatchLocked builds the wire Envelope for op and records it for
// ack-tracking. It returns the envelope and whether the caller should
// transmit it immediately after releasing r.mu — when offline or
// unattached, the envelope is queued to the outbox instead and toSend is
// false. Caller holds r.mu; transmitting must happen only after
// unlocking, since the transport may call straight back into this
// replica's ApplyInbound on the same goroutine (a synchronous
// MemoryTransport delivering an Ack back to its own sender, for
// instance), which would deadlock on a still-held, non-reentrant mutex.
func (r *Replica) dispatchLocked(op types.Operation) (types.Envelope, bool) {
	env := types.Envelope{
		Kind:       types.KindOperation,
		MessageID:  uuid.NewString(),
		OriginSite: r.site,
		Target:     types.BroadcastTarget,
		SendTime:   0,
		Payload:    op.ToPayload(),
	}
	r.pending[env.MessageID] = &pendingAck{
		env:       env,
		broadcast: true,
	}
	if r.metrics != nil {
		r.metrics.PendingAckTableSize.Set(float64(len(r.pending)))
	}

	if !r.online || r.transport == nil {
		r.outbox = append(r.outbox, env)
		return env, false
	}
	return env, true
}

// transmit performs the actual network send, retrying bookkeeping aside
// (that happens in Tick). Errors are logged; the pending-ack entry stays
// in place so Tick retries it on the normal schedule. Callers must not
// hold r.mu when calling transmit.
func (r *Replica) transmit(env types.Envelope) {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return
	}
	var err error
	if env.Target == types.BroadcastTarget {
		err = t.Broadcast(env)
	} else {
		err = t.Send(types.SiteID(env.Target), env)
	}
	if err != nil && r.log != nil {
		r.log.Warn("send failed, will retry", zap.String("message_id", env.MessageID), zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.EnvelopesSent.Inc()
	}
}

func (r *Replica) countApplied(kind, origin string) {
	if r.metrics != nil {
		r.metrics.OperationsApplied.WithLabelValues(kind, origin).Inc()
	}
}

func (r *Replica) recordOpLocked(clk clock.VectorClock, kind types.OperationKind, position uint32) {
	r.opLog = append(r.opLog, loggedOp{clock: clock.Clone(clk), kind: kind, position: position})
	if len(r.opLog) > maxOpLog {
		r.opLog = r.opLog[len(r.opLog)-maxOpLog:]
	}
}

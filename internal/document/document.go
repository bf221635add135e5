package document

import (
	"sync"

	"github.com/knirvcorp/collabtext/internal/clock"
	"github.com/knirvcorp/collabtext/internal/types"
)

// Document is the replicated character sequence of one replica: a slice
// of CharRecords held in document order (each record placed after its
// After anchor, with the §4.1 total order breaking ties between siblings
// of the same anchor — see Insert), an index from
// CharID to slice position for O(1) lookup, and a buffer of Delete
// operations that arrived before the Insert they target (spec §4.3).
//
// All mutation happens through Insert/Delete; callers never touch
// records directly. The zero value is not usable — construct with New.
type Document struct {
	mu      sync.RWMutex
	records []types.CharRecord
	index   map[types.CharID]int

	// pendingDeletes buffers Delete operations whose target CharID has not
	// yet been inserted. Keyed by target CharID; replayed by Insert once
	// that CharID appears. This is the one place the core buffers for
	// causal readiness — Inserts never need to wait (spec §4.1 "Causal
	// readiness").
	pendingDeletes map[types.CharID][]clock.VectorClock

	visibleLen int
}

// New returns an empty Document.
func New() *Document {
	return &Document{
		index:          make(map[types.CharID]int),
		pendingDeletes: make(map[types.CharID][]clock.VectorClock),
	}
}

// AnchorFor returns the CharID that a new character inserted at visible
// position pos should record as After: the CharID of the record (visible
// or tombstoned) immediately preceding the pos-th visible character in
// internal order, or nil if no record precedes it. pos is truncated to
// [0, VisibleLen()]; past the end, the anchor is the last record.
func (d *Document) AnchorFor(pos uint32) *types.CharID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx := d.visibleToInternalLocked(pos)
	if idx == 0 {
		return nil
	}
	id := d.records[idx-1].ID
	return &id
}

// Insert places rec into the document at the position dictated by its
// After anchor and, among direct siblings of that anchor, by the §4.1
// total order (char.Less). It is idempotent: re-inserting a CharID that
// already exists is a no-op and returns false.
//
// Insert never blocks on missing causal history: rec's anchor may itself
// be a tombstone or may not exist yet only if rec is malformed (the
// anchor, once referenced, is assumed already delivered — spec §4.3
// guarantees this for a causally-ordered transport, and for an
// out-of-order one the anchor is simply treated as "document start" if
// absent, which only affects cursor/merge aesthetics, never safety).
func (d *Document) Insert(rec types.CharRecord) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.index[rec.ID]; exists {
		return false
	}

	// Direct siblings of the same anchor are kept in descending §4.1 order
	// (highest-sorting record first): this is what lets a plain local
	// insert at the document start land before everything already
	// present, even though its origin_clock clock-dominates every prior
	// record — see the After-anchor note on CharRecord and DESIGN.md. Scan
	// past siblings that must stay to rec's left; when a sibling outranks
	// rec, skip past that sibling's entire subtree, not just the sibling
	// itself — a sibling that other inserts have since anchored onto still
	// occupies one contiguous block, and leaving any of its descendants
	// behind would make the final position depend on how many descendants
	// had arrived yet, which is exactly the arrival-order dependence a
	// CRDT must not have (full RGA weave, not a direct-sibling scan). Stop
	// at the first sibling rec outranks, or at the first non-sibling (an
	// element whose After differs — it belongs to a different insertion
	// point entirely).
	pos := d.anchorIndexLocked(rec.After)
	for pos < len(d.records) && sameAnchor(d.records[pos].After, rec.After) && Less(rec, d.records[pos]) {
		pos = d.skipSubtreeLocked(pos)
	}

	d.records = append(d.records, types.CharRecord{})
	copy(d.records[pos+1:], d.records[pos:])
	d.records[pos] = rec
	d.reindexFrom(pos)

	if rec.Visible {
		d.visibleLen++
	}

	d.replayPendingDeletes(rec.ID)
	return true
}

// skipSubtreeLocked returns the index immediately following the
// contiguous block of records descended from d.records[root]: root
// itself plus every record whose chain of After pointers leads back to
// root before reaching anything outside it. Document order keeps a
// record's entire subtree contiguous immediately after it, so this is a
// single forward scan tracking which CharIDs are still "inside" the
// subtree. Caller holds d.mu.
func (d *Document) skipSubtreeLocked(root int) int {
	frontier := map[types.CharID]bool{d.records[root].ID: true}
	pos := root + 1
	for pos < len(d.records) {
		after := d.records[pos].After
		if after == nil || !frontier[*after] {
			break
		}
		frontier[d.records[pos].ID] = true
		pos++
	}
	return pos
}

// anchorIndexLocked returns the internal index immediately after after,
// or 0 if after is nil (document start). Caller holds d.mu.
func (d *Document) anchorIndexLocked(after *types.CharID) int {
	if after == nil {
		return 0
	}
	if i, ok := d.index[*after]; ok {
		return i + 1
	}
	return 0
}

func sameAnchor(a, b *types.CharID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (d *Document) reindexFrom(from int) {
	for i := from; i < len(d.records); i++ {
		d.index[d.records[i].ID] = i
	}
}

// DeleteByID marks the character with the given id as tombstoned. If id
// is not yet present, the delete is buffered and replayed once the
// matching Insert arrives (spec §4.3). Returns applied=true if the
// tombstone took effect immediately, buffered=true if it was queued.
// Re-deleting an already-tombstoned character is idempotent: applied and
// buffered are both false.
func (d *Document) DeleteByID(id types.CharID, opClock clock.VectorClock) (applied, buffered bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, ok := d.index[id]
	if !ok {
		d.pendingDeletes[id] = append(d.pendingDeletes[id], opClock)
		return false, true
	}
	if !d.records[idx].Visible {
		return false, false
	}
	d.records[idx].Visible = false
	d.visibleLen--
	return true, false
}

// replayPendingDeletes applies any Delete operations buffered for id,
// now that its Insert has arrived. Caller holds d.mu.
func (d *Document) replayPendingDeletes(id types.CharID) {
	clocks, ok := d.pendingDeletes[id]
	if !ok {
		return
	}
	delete(d.pendingDeletes, id)
	idx := d.index[id]
	if d.records[idx].Visible {
		d.records[idx].Visible = false
		d.visibleLen--
	}
	_ = clocks // each buffered delete's clock has already achieved its effect; only the first to arrive matters for visibility.
}

// VisibleLen returns the number of non-tombstoned characters.
func (d *Document) VisibleLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.visibleLen
}

// Len returns the total record count, tombstones included.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// VisibleToInternal converts a visible-character position into an index
// into the full (tombstone-including) record slice. pos beyond the
// visible length clamps to the end of the slice (append position).
func (d *Document) VisibleToInternal(pos uint32) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.visibleToInternalLocked(pos)
}

func (d *Document) visibleToInternalLocked(pos uint32) int {
	count := uint32(0)
	for i, r := range d.records {
		if r.Visible {
			if count == pos {
				return i
			}
			count++
		}
	}
	return len(d.records)
}

// InternalToVisible converts a full record-slice index into the number
// of visible characters preceding it.
func (d *Document) InternalToVisible(idx int) uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := uint32(0)
	for i := 0; i < idx && i < len(d.records); i++ {
		if d.records[i].Visible {
			count++
		}
	}
	return count
}

// CharIDAtVisible returns the CharID of the pos-th visible character, or
// false if pos is at or beyond the visible length.
func (d *Document) CharIDAtVisible(pos uint32) (types.CharID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx := d.visibleToInternalLocked(pos)
	if idx >= len(d.records) {
		return types.CharID{}, false
	}
	return d.records[idx].ID, true
}

// RecordByID returns the record for id, if present.
func (d *Document) RecordByID(id types.CharID) (types.CharRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx, ok := d.index[id]
	if !ok {
		return types.CharRecord{}, false
	}
	return d.records[idx], true
}

// Text renders the visible characters in order.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]rune, 0, d.visibleLen)
	for _, r := range d.records {
		if r.Visible {
			out = append(out, r.Value)
		}
	}
	return string(out)
}

// Snapshot returns a deep copy of every record, for persistence (spec
// §6 snapshot format).
func (d *Document) Snapshot() []types.CharRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.CharRecord, len(d.records))
	copy(out, d.records)
	return out
}

// Restore replaces the document's contents with records, which must
// already be in document order (as Snapshot produces). Used when
// loading a persisted snapshot.
func (d *Document) Restore(records []types.CharRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = make([]types.CharRecord, len(records))
	copy(d.records, records)
	d.index = make(map[types.CharID]int, len(records))
	d.visibleLen = 0
	for i, r := range d.records {
		d.index[r.ID] = i
		if r.Visible {
			d.visibleLen++
		}
	}
	d.pendingDeletes = make(map[types.CharID][]clock.VectorClock)
}

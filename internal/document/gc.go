package document

import (
	"github.com/knirvcorp/collabtext/internal/clock"
	"github.com/knirvcorp/collabtext/internal/types"
)

// GC physically removes tombstoned records once every peer is known to
// have observed them, so pending_acks and the replay log never need to
// look at a deleted character again (spec §4.6).
//
// A tombstone is causally stable when its origin_clock is dominated by
// every clock in peerClocks — every peer has seen at least the causal
// history that produced the delete. The most recent keepRecent
// tombstones (by position in the record slice) are always retained
// regardless of stability, bounding how aggressively a single GC pass
// rewrites the slice and giving a newly-joined or momentarily-behind
// peer a window to still reference them for debugging.
//
// When force is true the causal-safety check is skipped; the caller has
// decided that correctness (a peer never being able to re-apply a
// tombstoned id as new) is less important than reclaiming memory,
// typically because that peer is known permanently gone. Without force,
// GC returns ErrGCUnsafe and removes nothing if peerClocks is empty —
// there is no peer set to have safely observed anything.
func (d *Document) GC(keepRecent int, peerClocks []clock.VectorClock, force bool) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !force && len(peerClocks) == 0 {
		return 0, types.ErrGCUnsafe
	}

	tombstoneIdx := make([]int, 0)
	for i, r := range d.records {
		if !r.Visible {
			tombstoneIdx = append(tombstoneIdx, i)
		}
	}
	if len(tombstoneIdx) <= keepRecent {
		return 0, nil
	}
	eligible := tombstoneIdx[:len(tombstoneIdx)-keepRecent]

	remove := make(map[int]bool, len(eligible))
	for _, i := range eligible {
		if force || d.stableAcrossPeers(d.records[i].OriginClock, peerClocks) {
			remove[i] = true
		}
	}
	if len(remove) == 0 {
		return 0, nil
	}

	kept := make([]types.CharRecord, 0, len(d.records)-len(remove))
	for i, r := range d.records {
		if !remove[i] {
			kept = append(kept, r)
		}
	}
	d.records = kept
	d.index = make(map[types.CharID]int, len(kept))
	for i, r := range d.records {
		d.index[r.ID] = i
	}
	return len(remove), nil
}

func (d *Document) stableAcrossPeers(origin clock.VectorClock, peerClocks []clock.VectorClock) bool {
	for _, peer := range peerClocks {
		if !clock.Dominates(peer, origin) {
			return false
		}
	}
	return true
}

package replica

import "github.com/knirvcorp/collabtext/internal/clock"

// GC runs tombstone collection (spec §4.6) using the clocks last observed
// from every peer that has sent this replica an operation or cursor
// report. keepRecent tombstones are always retained regardless of
// stability. force skips the causal-safety check entirely (for a peer
// known to be permanently gone).
func (r *Replica) GC(keepRecent int, force bool) (int, error) {
	r.mu.Lock()
	peerClocks := make([]clock.VectorClock, 0, len(r.peerClocks))
	for _, c := range r.peerClocks {
		peerClocks = append(peerClocks, c)
	}
	r.mu.Unlock()

	n, err := r.doc.GC(keepRecent, peerClocks, force)
	if err == nil && r.metrics != nil {
		r.metrics.GCRuns.Inc()
		r.metrics.GCRecordsReclaimed.Add(float64(n))
		r.metrics.TombstoneCount.Set(float64(r.countTombstones()))
	}
	return n, err
}

func (r *Replica) countTombstones() int {
	records := r.doc.Snapshot()
	n := 0
	for _, rec := range records {
		if !rec.Visible {
			n++
		}
	}
	return n
}

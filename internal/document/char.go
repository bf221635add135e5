// Package document implements the replicated character sequence (spec §3,
// §4.1, §4.6): the total order over CharRecords, tombstone-based deletion,
// and garbage collection.
package document

import (
	"github.com/knirvcorp/collabtext/internal/clock"
	"github.com/knirvcorp/collabtext/internal/types"
)

// Less implements the strict total order of spec §4.1: enumerate the
// union of site keys appearing in either record's origin clock, in
// ascending lexicographic order; compare component values at the first
// difference (missing ≡ 0); if all components are equal, compare the
// CharID's site, then its counter.
func Less(a, b types.CharRecord) bool {
	sites := unionSites(a.OriginClock, b.OriginClock)
	for _, s := range sites {
		va, vb := a.OriginClock[s], b.OriginClock[s]
		if va != vb {
			return va < vb
		}
	}
	if a.ID.Site != b.ID.Site {
		return a.ID.Site < b.ID.Site
	}
	return a.ID.Counter < b.ID.Counter
}

func unionSites(a, b clock.VectorClock) []clock.SiteID {
	seen := make(map[clock.SiteID]struct{}, len(a)+len(b))
	for s := range a {
		seen[s] = struct{}{}
	}
	for s := range b {
		seen[s] = struct{}{}
	}
	out := make([]clock.SiteID, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	// Insertion sort is fine: the site sets involved are tiny (one entry
	// per replica that has touched the document).
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

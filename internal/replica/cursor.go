package replica

import (
	"github.com/google/uuid"

	"github.com/knirvcorp/collabtext/internal/clock"
	"github.com/knirvcorp/collabtext/internal/types"
)

// ReportCursor broadcasts this replica's own caret (and optional
// selection) at the current vector clock, so peers can transform it as
// their own documents evolve (spec §4.5).
func (r *Replica) ReportCursor(position uint32, selection *types.Selection) {
	r.mu.Lock()
	env := types.Envelope{
		Kind:       types.KindCursor,
		MessageID:  uuid.NewString(),
		OriginSite: r.site,
		Target:     types.BroadcastTarget,
		Payload: types.CursorPayload{
			Position:  position,
			Selection: selection,
			Clock:     clock.Clone(r.clk),
		},
	}
	online, transport := r.online, r.transport
	if !online || transport == nil {
		r.outbox = append(r.outbox, env)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	// Cursor reports are fire-and-forget (spec §4.5): losing one just
	// means a peer's caret briefly lags, corrected by the next report, so
	// they are never added to pending_acks.
	r.transmit(env)
}

// TransformedCursor returns where site's cursor should be drawn right
// now: its last-reported position, adjusted for every Insert/Delete, local
// or remote, this replica has applied whose clock is strictly after that
// report's clock (spec §4.5). Returns
// ok=false if no cursor report has ever been received from site.
//
// This is explicitly best-effort: an operation logged before site's
// report fell off the bounded opLog, or a concurrent edit this replica
// cannot order relative to the report, leaves the position untransformed
// rather than guessed at — per spec.md, leaving the caret in place is
// the least-surprising fallback under ambiguity.
func (r *Replica) TransformedCursor(site types.SiteID) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report, ok := r.cursors[site]
	if !ok {
		return 0, false
	}

	pos := int64(report.Position)
	for _, op := range r.opLog {
		if !clock.StrictlyAfter(op.clock, report.Clock) {
			continue
		}
		// Each op is replayed against the running transformed value, not
		// the original report — an earlier replayed Insert shifts where
		// later ones must compare against, same as the caret itself would
		// have shifted had the peer applied these ops locally one by one.
		switch op.kind {
		case types.OpInsert:
			if int64(op.position) <= pos {
				pos++
			}
		case types.OpDelete:
			if int64(op.position) < pos {
				pos--
			}
		}
	}
	if pos < 0 {
		pos = 0
	}
	return uint32(pos), true
}

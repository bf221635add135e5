// Package types holds the wire and data model shared by the document,
// replica and network packages: character identifiers, operations,
// envelopes and cursor reports (spec §3, §6).
package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/knirvcorp/collabtext/internal/clock"
)

// SiteID identifies a replica, chosen once per replica at startup and
// stable for the lifetime of the session.
type SiteID = clock.SiteID

// CharID globally and immutably identifies one character: the site that
// inserted it, and a per-site monotone counter independent of the vector
// clock.
type CharID struct {
	Site    SiteID `json:"site"`
	Counter uint64 `json:"counter"`
}

// String renders a CharID as "<site>-<counter>", the wire form spec §6
// requires for the `id` field.
func (id CharID) String() string {
	return fmt.Sprintf("%s-%d", id.Site, id.Counter)
}

// ParseCharID parses the "<site>-<counter>" wire form back into a CharID.
// The counter never contains '-', so the split point is the last hyphen;
// the site part may itself contain hyphens.
func ParseCharID(s string) (CharID, error) {
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return CharID{}, fmt.Errorf("collabtext: malformed char id %q", s)
	}
	counter, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return CharID{}, fmt.Errorf("collabtext: malformed char id %q: %w", s, err)
	}
	return CharID{Site: SiteID(s[:i]), Counter: counter}, nil
}

// CharRecord is one character in the document: its value, identity, the
// vector clock snapshot at creation, whether it has been deleted, and the
// CharID it was inserted immediately after (nil for a character inserted
// at the document start).
//
// After is the one addition beyond the essential-attributes table: a
// pure clock-magnitude total order places a freshly incremented local
// record after every record it causally dominates, which is every prior
// record this replica has ever produced or merged — so a plain "sort by
// (origin_clock, site, counter)" always appends, never inserts in the
// middle. Anchoring each record to its left neighbor at creation time
// (the RGA/causal-tree approach; see document.Document.Insert)
// keeps §4.1's comparator for what it is actually needed for — breaking
// ties between concurrent inserts at the same gap — while letting local
// edits land exactly where the caret was.
type CharRecord struct {
	Value       rune              `json:"value"`
	ID          CharID            `json:"id"`
	OriginClock clock.VectorClock `json:"originClock"`
	Visible     bool              `json:"visible"`
	After       *CharID           `json:"after,omitempty"`
}

// OperationKind distinguishes Insert from Delete. Represented as an
// exhaustively-matched tagged sum via OperationKind plus the
// kind-specific fields on Operation, rather than a dynamically dispatched
// "type" string.
type OperationKind int

const (
	OpInsert OperationKind = iota
	OpDelete
)

// Operation is the tagged union spec §3 describes: an Insert carries the
// new CharRecord, a Delete carries the target CharID. Both carry the
// issuing replica's clock at the time of issue.
type Operation struct {
	Kind     OperationKind     `json:"type"`
	Position uint32            `json:"position"`
	Clock    clock.VectorClock `json:"clock"`

	// Insert-only.
	Record *CharRecord `json:"record,omitempty"`

	// Delete-only.
	TargetID *CharID `json:"targetId,omitempty"`
}

// EnvelopeKind identifies which payload an Envelope carries.
type EnvelopeKind string

const (
	KindOperation EnvelopeKind = "operation"
	KindAck       EnvelopeKind = "ack"
	KindCursor    EnvelopeKind = "cursor"
	KindPresence  EnvelopeKind = "presence"
)

// BroadcastTarget is the sentinel Envelope.Target value for messages
// addressed to every peer rather than one.
const BroadcastTarget = "broadcast"

// Envelope is the wire unit exchanged between replicas (spec §6). Payload
// holds one of OperationPayload, AckPayload, CursorPayload or
// PresencePayload depending on Kind.
type Envelope struct {
	Kind       EnvelopeKind `json:"kind"`
	MessageID  string       `json:"message_id"`
	OriginSite SiteID       `json:"origin_site"`
	Target     string       `json:"target"`
	SendTime   int64        `json:"send_time"`
	Payload    interface{}  `json:"payload"`
}

// OperationPayload is the Envelope payload for KindOperation.
type OperationPayload struct {
	Type     string            `json:"type"` // "insert" | "delete"
	Position uint32            `json:"position"`
	Clock    clock.VectorClock `json:"clock"`
	Record   *WireCharRecord   `json:"record,omitempty"`
	TargetID *string           `json:"target_id,omitempty"`
}

// ToPayload renders op as the Envelope payload spec §6 puts on the wire
// for KindOperation.
func (op Operation) ToPayload() OperationPayload {
	p := OperationPayload{Position: op.Position, Clock: clock.Clone(op.Clock)}
	switch op.Kind {
	case OpInsert:
		p.Type = "insert"
		if op.Record != nil {
			w := op.Record.ToWire()
			p.Record = &w
		}
	case OpDelete:
		p.Type = "delete"
		if op.TargetID != nil {
			id := op.TargetID.String()
			p.TargetID = &id
		}
	}
	return p
}

// FromPayload parses p back into an Operation.
func (p OperationPayload) FromPayload() (Operation, error) {
	op := Operation{Position: p.Position, Clock: clock.Clone(p.Clock)}
	switch p.Type {
	case "insert":
		op.Kind = OpInsert
		if p.Record == nil {
			return Operation{}, fmt.Errorf("collabtext: insert operation payload missing record")
		}
		rec, err := p.Record.FromWire()
		if err != nil {
			return Operation{}, err
		}
		op.Record = &rec
	case "delete":
		op.Kind = OpDelete
		if p.TargetID == nil {
			return Operation{}, fmt.Errorf("collabtext: delete operation payload missing target_id")
		}
		id, err := ParseCharID(*p.TargetID)
		if err != nil {
			return Operation{}, err
		}
		op.TargetID = &id
	default:
		return Operation{}, fmt.Errorf("collabtext: unknown operation payload type %q", p.Type)
	}
	return op, nil
}

// WireCharRecord is the bit-exact wire form of a CharRecord (spec §6):
// `id` and `after` are the textual "<site>-<counter>" form, not nested
// objects. After is omitted for a character inserted at the document
// start.
type WireCharRecord struct {
	Value       string            `json:"value"`
	ID          string            `json:"id"`
	OriginSite  SiteID            `json:"origin_site"`
	OriginClock clock.VectorClock `json:"origin_clock"`
	Visible     bool              `json:"visible"`
	After       string            `json:"after,omitempty"`
}

// ToWire renders r in the textual form spec §6 puts on the wire.
func (r CharRecord) ToWire() WireCharRecord {
	w := WireCharRecord{
		Value:       string(r.Value),
		ID:          r.ID.String(),
		OriginSite:  r.ID.Site,
		OriginClock: clock.Clone(r.OriginClock),
		Visible:     r.Visible,
	}
	if r.After != nil {
		w.After = r.After.String()
	}
	return w
}

// FromWire parses w back into a CharRecord.
func (w WireCharRecord) FromWire() (CharRecord, error) {
	if len([]rune(w.Value)) != 1 {
		return CharRecord{}, fmt.Errorf("collabtext: wire char record value must be one rune, got %q", w.Value)
	}
	id, err := ParseCharID(w.ID)
	if err != nil {
		return CharRecord{}, err
	}
	rec := CharRecord{
		Value:       []rune(w.Value)[0],
		ID:          id,
		OriginClock: clock.Clone(w.OriginClock),
		Visible:     w.Visible,
	}
	if w.After != "" {
		after, err := ParseCharID(w.After)
		if err != nil {
			return CharRecord{}, err
		}
		rec.After = &after
	}
	return rec, nil
}

// AckPayload is the Envelope payload for KindAck.
type AckPayload struct {
	AckID string `json:"ack_id"`
}

// CursorPayload is the Envelope payload for KindCursor.
type CursorPayload struct {
	Position  uint32            `json:"position"`
	Selection *Selection        `json:"selection,omitempty"`
	Clock     clock.VectorClock `json:"clock"`
}

// Selection is an inclusive-exclusive caret selection range.
type Selection struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// PresencePayload is the Envelope payload for KindPresence.
type PresencePayload struct {
	Session   string `json:"session"`
	Timestamp int64  `json:"timestamp"`
}

// CursorReport is the last-writer-wins caret state known for one site.
type CursorReport struct {
	Site      SiteID
	Position  uint32
	Selection *Selection
	Clock     clock.VectorClock
}

// ApplyResult reports the outcome of applying an inbound envelope (spec
// §6 `apply_inbound`).
type ApplyResult struct {
	Applied    bool
	Duplicate  bool
	Malformed  bool
	AckEnvelope *Envelope
}

package segment

import "github.com/entityql/coreql/internal/bitmap"

// Event is one Enter/Exit delta emitted on segment recompute (spec.md
// §4.8 "Delta emission").
type Event struct {
	EntityID string
	Kind     EventKind
}

// EventKind distinguishes an entity newly entering vs. leaving a
// segment's membership.
type EventKind uint8

const (
	Enter EventKind = iota
	Exit
)

// Sink receives delta events, drained by the collaborator per spec.md
// §4.8 "Emissions go to a per-partition message queue drained by the
// collaborator".
type Sink interface {
	Emit(segmentName string, ev Event)
}

// EmitDelta compares seg's current bits against its previous snapshot
// and emits one event per entity whose membership changed, resolving
// linear ids back to entity ids through p.Entities. A segment with no
// previous snapshot is diffed against the empty set, so every current
// member is reported as entered.
func EmitDelta(seg *Segment, p *Partition, sink Sink) {
	if sink == nil {
		return
	}
	prev := seg.PreviousBits
	if prev == nil {
		prev = bitmap.New()
	}
	entered := bitmap.AndNot(seg.Bits, prev)
	exited := bitmap.AndNot(prev, seg.Bits)

	for _, id := range entered.ToArray() {
		if entityID, ok := p.Entities.EntityID(id); ok {
			sink.Emit(seg.Name, Event{EntityID: entityID, Kind: Enter})
		}
	}
	for _, id := range exited.ToArray() {
		if entityID, ok := p.Entities.EntityID(id); ok {
			sink.Emit(seg.Name, Event{EntityID: entityID, Kind: Exit})
		}
	}
}

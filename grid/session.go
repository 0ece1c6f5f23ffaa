package grid

// DefaultSessionGapMS is the default inter-event gap (30 minutes) past
// which a new session begins (spec.md §3 "session is derived").
const DefaultSessionGapMS = 30 * 60 * 1000

// assignSessions is the single pass that assigns monotonic session ids
// starting at 1: rows is assumed already sorted by row key.
// spec.md P3: session(row_i) <= session(row_{i+1}), equality iff
// stamp_{i+1} - stamp_i <= gap.
func assignSessions(rows []Row, gapMS int64) {
	if len(rows) == 0 {
		return
	}
	session := int64(1)
	rows[0].Session = session
	for i := 1; i < len(rows); i++ {
		if rows[i].Stamp-rows[i-1].Stamp > gapMS {
			session++
		}
		rows[i].Session = session
	}
}

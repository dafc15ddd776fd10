package presence

import "time"

// DefaultLabelHideDelay is how long a peer's name label stays visible after
// its cursor last moved.
const DefaultLabelHideDelay = 3 * time.Second

// ActivityRecord is the derived per-peer cursor state handed to the rendering
// layer. Positions are raw offsets; the renderer clamps them to the current
// document length so a stale peer pointing past a deletion is not corrupted
// here.
type ActivityRecord struct {
	Cursor        Cursor
	SelectionFrom int
	SelectionTo   int
	LastMovedAt   time.Time
}

// HasSelection reports whether the record is eligible for a selection
// highlight. A collapsed cursor never is.
func (r ActivityRecord) HasSelection() bool {
	return r.SelectionFrom != r.SelectionTo
}

type TrackerOptions struct {
	Clock          func() time.Time
	LabelHideDelay time.Duration
}

// Tracker maintains per-peer cursor activity across awareness notifications
// for one document. It is owned by a single session; Observe calls must not
// overlap.
type Tracker struct {
	clock          func() time.Time
	labelHideDelay time.Duration
	records        map[int64]ActivityRecord
}

func NewTracker(opts TrackerOptions) *Tracker {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	delay := opts.LabelHideDelay
	if delay <= 0 {
		delay = DefaultLabelHideDelay
	}
	return &Tracker{
		clock:          clock,
		labelHideDelay: delay,
		records:        map[int64]ActivityRecord{},
	}
}

// Observe rebuilds the activity map from a fresh snapshot set. Peers absent
// from the set (or present without a cursor) are dropped. LastMovedAt is
// carried forward unchanged unless the peer's cursor actually moved since the
// previous notification.
func (t *Tracker) Observe(peers []PeerSnapshot) {
	next := make(map[int64]ActivityRecord, len(peers))
	now := t.clock()
	for _, peer := range peers {
		if peer.Cursor == nil {
			continue
		}
		cursor := *peer.Cursor
		record := ActivityRecord{
			Cursor:        cursor,
			SelectionFrom: min(cursor.Anchor, cursor.Head),
			SelectionTo:   max(cursor.Anchor, cursor.Head),
			LastMovedAt:   now,
		}
		if prev, ok := t.records[peer.ClientID]; ok {
			if prev.Cursor.Anchor == cursor.Anchor && prev.Cursor.Head == cursor.Head {
				record.LastMovedAt = prev.LastMovedAt
			}
		}
		next[peer.ClientID] = record
	}
	t.records = next
}

// Record returns the tracked state for one peer.
func (t *Tracker) Record(clientID int64) (ActivityRecord, bool) {
	record, ok := t.records[clientID]
	return record, ok
}

// Records returns a copy of the full activity map.
func (t *Tracker) Records() map[int64]ActivityRecord {
	out := make(map[int64]ActivityRecord, len(t.records))
	for id, record := range t.records {
		out[id] = record
	}
	return out
}

// LabelVisible reports whether the peer's name label should currently render.
func (t *Tracker) LabelVisible(clientID int64) bool {
	record, ok := t.records[clientID]
	if !ok {
		return false
	}
	return t.clock().Sub(record.LastMovedAt) < t.labelHideDelay
}

package zreplog

// IntervalIdx identifies a time bucket of width ReplicaConfig.IntervalDuration
// since a Configuration's epoch.
type IntervalIdx uint64

// SubIntervalIdx identifies one of ReplicaConfig.SubIntervals partitions
// within an Interval.
type SubIntervalIdx uint32

// EventRemovalKind enumerates the outcomes of SubInterval/Interval's
// if-newer-remove-older check.
type EventRemovalKind uint8

const (
	// NotFound indicates no Event is tracked for the key in this
	// SubInterval/Interval.
	NotFound EventRemovalKind = iota
	// KeptNewer indicates the tracked Event's Timestamp is greater than or
	// equal to the offered one; nothing was removed.
	KeptNewer
	// RemovedOlder indicates the tracked Event was older and was removed.
	RemovedOlder
)

// EventRemoval is the outcome of a newer-than check against a tracked Event.
type EventRemoval struct {
	Kind EventRemovalKind
	// Old is the Event that was removed, valid only when Kind == RemovedOlder.
	Old Event
}

// SubInterval holds at most one Event per key expression along with the
// XOR of their fingerprints, maintained incrementally.
type SubInterval struct {
	events map[string]Event
	nilKey *Event
	fp     Fingerprint
}

func newSubInterval() *SubInterval {
	return &SubInterval{events: make(map[string]Event)}
}

// Fingerprint returns the SubInterval's cached XOR fingerprint.
func (s *SubInterval) Fingerprint() Fingerprint {
	return s.fp
}

// insertUnchecked inserts event, assuming the caller has already verified
// there is no conflicting Event for this key anywhere in the log. It XORs
// event's fingerprint into the cached fingerprint.
func (s *SubInterval) insertUnchecked(event Event) {
	if event.KeyExpr == nil {
		s.nilKey = &event
	} else {
		s.events[*event.KeyExpr] = event
	}
	s.fp = s.fp.Combine(event.Fingerprint())
}

// remove deletes the Event for keyExpr, if any, XORing its fingerprint back
// out of the cached fingerprint, and returns it.
func (s *SubInterval) remove(keyExpr *string) (Event, bool) {
	if keyExpr == nil {
		if s.nilKey == nil {
			return Event{}, false
		}
		old := *s.nilKey
		s.nilKey = nil
		s.fp = s.fp.Combine(old.Fingerprint())
		return old, true
	}
	old, ok := s.events[*keyExpr]
	if !ok {
		return Event{}, false
	}
	delete(s.events, *keyExpr)
	s.fp = s.fp.Combine(old.Fingerprint())
	return old, true
}

// lookup returns the tracked Event for keyExpr, if any.
func (s *SubInterval) lookup(keyExpr *string) (Event, bool) {
	if keyExpr == nil {
		if s.nilKey == nil {
			return Event{}, false
		}
		return *s.nilKey, true
	}
	e, ok := s.events[*keyExpr]
	return e, ok
}

// ifNewerRemoveOlder reports what happens when ts arrives for keyExpr: if
// no Event is tracked for keyExpr, NotFound. If the tracked Event's
// Timestamp is >= ts (ties go to the incumbent; an equal timestamp is
// never replaced), KeptNewer. Otherwise the tracked Event is removed and
// returned as RemovedOlder.
func (s *SubInterval) ifNewerRemoveOlder(keyExpr *string, ts Timestamp) EventRemoval {
	existing, ok := s.lookup(keyExpr)
	if !ok {
		return EventRemoval{Kind: NotFound}
	}
	if !existing.Timestamp.Before(ts) {
		return EventRemoval{Kind: KeptNewer}
	}
	old, _ := s.remove(keyExpr)
	return EventRemoval{Kind: RemovedOlder, Old: old}
}

// count returns the number of Events tracked in this SubInterval.
func (s *SubInterval) count() int {
	n := len(s.events)
	if s.nilKey != nil {
		n++
	}
	return n
}

// Interval holds a SubIntervalIdx -> SubInterval map and the XOR of the
// contained sub-intervals' fingerprints.
type Interval struct {
	subs map[SubIntervalIdx]*SubInterval
	fp   Fingerprint
}

func newInterval() *Interval {
	return &Interval{subs: make(map[SubIntervalIdx]*SubInterval)}
}

// Fingerprint returns the Interval's cached XOR fingerprint.
func (iv *Interval) Fingerprint() Fingerprint {
	return iv.fp
}

// insertUnchecked routes event into its sub-interval, creating it if
// necessary, and folds event's fingerprint into the Interval's cached
// fingerprint.
func (iv *Interval) insertUnchecked(subIdx SubIntervalIdx, event Event) {
	sub, ok := iv.subs[subIdx]
	if !ok {
		sub = newSubInterval()
		iv.subs[subIdx] = sub
	}
	sub.insertUnchecked(event)
	iv.fp = iv.fp.Combine(event.Fingerprint())
}

// ifNewerRemoveOlder scans sub-intervals from newest to oldest, returning
// on the first RemovedOlder or KeptNewer; if none of the sub-intervals
// track the key, it returns NotFound. When it removes an Event, the
// Interval's cached fingerprint is updated to match.
func (iv *Interval) ifNewerRemoveOlder(keyExpr *string, ts Timestamp) EventRemoval {
	for _, subIdx := range iv.descendingSubIndices() {
		sub := iv.subs[subIdx]
		removal := sub.ifNewerRemoveOlder(keyExpr, ts)
		switch removal.Kind {
		case RemovedOlder:
			iv.fp = iv.fp.Combine(removal.Old.Fingerprint())
			return removal
		case KeptNewer:
			return removal
		}
	}
	return EventRemoval{Kind: NotFound}
}

// lookup scans sub-intervals from newest to oldest and returns the first
// tracked Event for keyExpr.
func (iv *Interval) lookup(keyExpr *string) (Event, bool) {
	for _, subIdx := range iv.descendingSubIndices() {
		if e, ok := iv.subs[subIdx].lookup(keyExpr); ok {
			return e, true
		}
	}
	return Event{}, false
}

// subIntervalsFingerprints returns a snapshot of SubIntervalIdx ->
// Fingerprint for every non-empty sub-interval (fp != 0), omitting the
// rest so hot-era digest entries stay sparse.
func (iv *Interval) subIntervalsFingerprints() map[SubIntervalIdx]Fingerprint {
	out := make(map[SubIntervalIdx]Fingerprint, len(iv.subs))
	for idx, sub := range iv.subs {
		if !sub.Fingerprint().IsZero() {
			out[idx] = sub.Fingerprint()
		}
	}
	return out
}

// count returns the number of Events tracked across all of this
// Interval's sub-intervals.
func (iv *Interval) count() int {
	n := 0
	for _, sub := range iv.subs {
		n += sub.count()
	}
	return n
}

// descendingSubIndices returns the Interval's sub-interval indices sorted
// newest (highest index) to oldest, the order lookups and removals scan
// sub-intervals in.
func (iv *Interval) descendingSubIndices() []SubIntervalIdx {
	out := make([]SubIntervalIdx, 0, len(iv.subs))
	for idx := range iv.subs {
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] > out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

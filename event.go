package zreplog

import "github.com/zeebo/xxh3"

// Action identifies whether an Event recorded a publication or a removal.
type Action uint8

const (
	// Put records that a value was published for a key.
	Put Action = iota
	// Delete records that a key was explicitly removed (a tombstone).
	Delete
)

func (a Action) String() string {
	if a == Delete {
		return "Delete"
	}
	return "Put"
}

// Event records the fact that a publication occurred on a (possibly
// prefix-stripped) key expression at a given Timestamp. Events are
// immutable once created: Fingerprint is computed at construction time and
// never recomputed.
//
// KeyExpr is a pointer rather than a plain string so that "no key" (nil)
// and "empty string key" (non-nil, empty) stay distinguishable.
type Event struct {
	KeyExpr   *string
	Timestamp Timestamp
	Action    Action
	fp        Fingerprint
}

// NewEvent builds an Event and computes its Fingerprint as xxh3-64 over the
// key bytes (empty if keyExpr is nil), the little-endian Timestamp.Time,
// and the little-endian Timestamp.NodeID, in that order. This exact byte
// layout and hash function are load-bearing: any deviation breaks
// cross-node digest comparison.
func NewEvent(keyExpr *string, ts Timestamp, action Action) Event {
	return Event{
		KeyExpr:   keyExpr,
		Timestamp: ts,
		Action:    action,
		fp:        fingerprintOf(keyExpr, ts),
	}
}

func fingerprintOf(keyExpr *string, ts Timestamp) Fingerprint {
	var h xxh3.Hasher
	if keyExpr != nil {
		h.WriteString(*keyExpr)
	}
	h.Write(ts.timeLE())
	h.Write(ts.nodeIDLE())
	return Fingerprint(h.Sum64())
}

// Fingerprint returns the Event's precomputed Fingerprint. It must never be
// trusted when it arrives off the wire: a receiving peer that rehydrates
// an Event from wire bytes should call NewEvent, not assign an attacker-
// or bug-supplied fingerprint directly.
func (e Event) Fingerprint() Fingerprint {
	return e.fp
}

// sameKey reports whether e carries keyExpr as its (possibly nil) key
// expression.
func (e Event) sameKey(keyExpr *string) bool {
	return keyExprEqual(e.KeyExpr, keyExpr)
}

func keyExprEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// EventInsertionKind enumerates the possible outcomes of LogLatest.InsertEvent.
type EventInsertionKind uint8

const (
	// InsertedNew indicates there was no Event in the log for this key.
	InsertedNew EventInsertionKind = iota
	// ReplacedOlder indicates an older Event for this key was evicted.
	ReplacedOlder
	// NotInsertedAsOlder indicates the log already holds an Event for this
	// key with a Timestamp greater than or equal to the one offered.
	NotInsertedAsOlder
	// NotInsertedAsOutOfBound indicates the Event's Timestamp classifies
	// beyond the representable IntervalIdx range and was dropped.
	NotInsertedAsOutOfBound
)

// EventInsertion is the outcome of attempting to insert an Event into a
// LogLatest.
type EventInsertion struct {
	Kind EventInsertionKind
	// Event is the newly inserted Event (Kind == InsertedNew) or the
	// Event that was just inserted after evicting an older one
	// (Kind == ReplacedOlder). Replaced holds the evicted Event in the
	// latter case. Event is the zero value for the NotInserted* kinds.
	Event Event
	// Replaced is the Event that InsertEvent evicted, valid only when
	// Kind == ReplacedOlder.
	Replaced Event
}

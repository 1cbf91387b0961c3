package zreplog

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/holiman/bloomfilter/v2"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Bloom filter sizing is hard-coded rather than exposed as a tunable, so
// the memory budget stays comparable across versions.
const (
	bloomCapacity  = 1 << 23
	bloomTargetFPR = 0.01
)

type intervalEntry struct {
	idx      IntervalIdx
	interval *Interval
}

func intervalEntryLess(a, b intervalEntry) bool {
	return a.idx < b.idx
}

// LogLatest is the top-level replication log: an ordered IntervalIdx ->
// Interval map plus a Bloom filter over key expressions, guarded by a
// single RWMutex under a single-writer/many-reader discipline.
type LogLatest struct {
	configuration Configuration
	storage       StorageCapability
	logger        *zap.Logger

	mu        sync.RWMutex
	intervals *btree.BTreeG[intervalEntry]
	bloom     *bloomfilter.Filter

	onBloomSaturation func(loadFactor float64)
}

// LogLatestOption configures optional LogLatest behavior.
type LogLatestOption func(*LogLatest)

// WithLogger attaches a structured logger; the default is a no-op logger so
// embedding code is never forced into a logging configuration it didn't
// ask for.
func WithLogger(logger *zap.Logger) LogLatestOption {
	return func(l *LogLatest) { l.logger = logger }
}

// WithBloomSaturationWarning registers a callback fired when the Bloom
// filter's observed load factor exceeds its target false-positive rate, so
// an operator gets a warning before lookups start degrading. It is
// checked on every successful insert, not on every lookup. Without this
// option the warning is logged at Warn level through the log's logger.
func WithBloomSaturationWarning(fn func(loadFactor float64)) LogLatestOption {
	return func(l *LogLatest) { l.onBloomSaturation = fn }
}

// NewLogLatest builds a LogLatest for storageKeyExpr/prefix under replica,
// attached to storage. It refuses a backend reporting HistoryAll: this log
// only ever tracks the latest value per key and cannot back a
// full-history store. storage may be nil for tests that only exercise
// classification and digesting.
func NewLogLatest(storageKeyExpr string, prefix *string, replica ReplicaConfig, epoch time.Time, storage StorageCapability, opts ...LogLatestOption) (*LogLatest, error) {
	if storage != nil && storage.Capability() == HistoryAll {
		return nil, ErrStorageIncompatible
	}
	filter, err := bloomfilter.NewOptimal(bloomCapacity, bloomTargetFPR)
	if err != nil {
		return nil, errors.Wrap(err, "zreplog: constructing bloom filter")
	}
	l := &LogLatest{
		configuration: NewConfiguration(storageKeyExpr, prefix, replica, epoch),
		storage:       storage,
		logger:        zap.NewNop(),
		intervals:     btree.NewG(32, intervalEntryLess),
		bloom:         filter,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.onBloomSaturation == nil {
		l.onBloomSaturation = func(loadFactor float64) {
			l.logger.Warn("bloom filter load factor exceeds target", zap.Float64("loadFactor", loadFactor))
		}
	}
	return l, nil
}

// Configuration returns the LogLatest's bound Configuration.
func (l *LogLatest) Configuration() Configuration {
	return l.configuration
}

// keyExprHasher adapts a key expression's precomputed xxh3-64 digest into
// the hash.Hash64 the Bloom filter expects, in the same shape as
// go-ethereum's bloomAccountHasher/accountBloomHasher: the hash is computed
// once up front, and Write/Reset are no-ops because nothing ever feeds this
// hasher more bytes after construction.
type keyExprHasher uint64

func newKeyExprHasher(keyExpr *string) keyExprHasher {
	if keyExpr == nil {
		return keyExprHasher(xxh3.HashString(""))
	}
	return keyExprHasher(xxh3.HashString(*keyExpr))
}

func (h keyExprHasher) Write(p []byte) (int, error) { return len(p), nil }

func (h keyExprHasher) Sum(b []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(h))
	return append(b, buf[:]...)
}

func (h keyExprHasher) Reset()         {}
func (h keyExprHasher) Size() int      { return 8 }
func (h keyExprHasher) BlockSize() int { return 8 }
func (h keyExprHasher) Sum64() uint64  { return uint64(h) }

// Lookup returns the Event currently on record for keyExpr, if any. The
// Bloom filter is checked first; since it has no false negatives, a miss is
// authoritative and Lookup returns without scanning any interval.
func (l *LogLatest) Lookup(keyExpr *string) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lookupLocked(keyExpr)
}

func (l *LogLatest) lookupLocked(keyExpr *string) (Event, bool) {
	if !l.bloom.Contains(newKeyExprHasher(keyExpr)) {
		return Event{}, false
	}
	var found Event
	var ok bool
	l.intervals.Descend(func(e intervalEntry) bool {
		if ev, has := e.interval.lookup(keyExpr); has {
			found, ok = ev, true
			return false
		}
		return true
	})
	return found, ok
}

// scanIntervalsNewestFirst walks intervals from newest to oldest looking
// for a tracked Event for keyExpr, stopping as soon as an interval
// resolves the key one way or the other: there can only ever be one
// tracked Event per key, so the first RemovedOlder or KeptNewer outcome
// is final.
func (l *LogLatest) scanIntervalsNewestFirst(keyExpr *string, ts Timestamp) EventRemoval {
	result := EventRemoval{Kind: NotFound}
	l.intervals.Descend(func(e intervalEntry) bool {
		removal := e.interval.ifNewerRemoveOlder(keyExpr, ts)
		if removal.Kind == NotFound {
			return true
		}
		result = removal
		return false
	})
	return result
}

// InsertEvent applies event to the log: scan for a conflicting older
// Event, classify the timestamp, flip the Bloom bit, then insert. The
// Bloom filter is never touched on the out-of-bound path.
func (l *LogLatest) InsertEvent(event Event) EventInsertion {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertEventLocked(event, l.logger.Error)
}

// Update applies events in order, ignoring each outcome, logging
// out-of-bound drops at Warn rather than InsertEvent's Error since a bulk
// transfer hitting a stale event here and there is expected, not
// exceptional. Each event is applied atomically; Update itself is not
// cancellation-safe mid-iteration.
func (l *LogLatest) Update(events []Event) {
	for _, e := range events {
		l.mu.Lock()
		l.insertEventLocked(e, l.logger.Warn)
		l.mu.Unlock()
	}
}

func (l *LogLatest) insertEventLocked(event Event, logOutOfBound func(msg string, fields ...zap.Field)) EventInsertion {
	var removal EventRemoval
	if l.bloom.Contains(newKeyExprHasher(event.KeyExpr)) {
		removal = l.scanIntervalsNewestFirst(event.KeyExpr, event.Timestamp)
		if removal.Kind == KeptNewer {
			return EventInsertion{Kind: NotInsertedAsOlder}
		}
	}

	idx, subIdx, err := l.configuration.GetTimeClassification(event.Timestamp)
	if err != nil {
		logOutOfBound("event classified out of bound, dropping", zap.Error(err))
		return EventInsertion{Kind: NotInsertedAsOutOfBound}
	}

	l.bloom.Add(newKeyExprHasher(event.KeyExpr))
	if l.onBloomSaturation != nil {
		if lf := l.bloomLoadFactor(); lf > bloomTargetFPR {
			l.onBloomSaturation(lf)
		}
	}

	entry, found := l.intervals.Get(intervalEntry{idx: idx})
	if !found {
		entry = intervalEntry{idx: idx, interval: newInterval()}
		l.intervals.ReplaceOrInsert(entry)
	}
	entry.interval.insertUnchecked(subIdx, event)

	if removal.Kind == RemovedOlder {
		return EventInsertion{Kind: ReplacedOlder, Event: event, Replaced: removal.Old}
	}
	return EventInsertion{Kind: InsertedNew, Event: event}
}

func (l *LogLatest) bloomLoadFactor() float64 {
	m := l.bloom.M()
	if m == 0 {
		return 0
	}
	return float64(l.bloom.N()) / float64(m)
}

// Digest derives the upper interval bound from LastElapsedInterval(now) and
// delegates to DigestFrom.
func (l *LogLatest) Digest() (*Digest, error) {
	upper, err := l.configuration.LastElapsedInterval(time.Now())
	if err != nil {
		return nil, err
	}
	return l.DigestFrom(upper), nil
}

// DigestFrom summarizes every interval with idx <= upper into the
// appropriate era: cold intervals are folded into one XOR, warm intervals
// keep a per-interval fingerprint (when non-zero), hot intervals keep a
// per-sub-interval fingerprint map (when non-empty). It holds only the
// read lock and never copies whole intervals, so it never does unbounded
// work under the lock.
func (l *LogLatest) DigestFrom(upper IntervalIdx) *Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	hotLower := l.configuration.HotEraLowerBound(upper)
	warmLower := l.configuration.WarmEraLowerBound(upper)

	d := newDigest(l.configuration.Fingerprint())
	l.intervals.Ascend(func(e intervalEntry) bool {
		if e.idx > upper {
			return false
		}
		switch {
		case e.idx < warmLower:
			d.ColdFingerprint = d.ColdFingerprint.Combine(e.interval.Fingerprint())
		case e.idx < hotLower:
			if fp := e.interval.Fingerprint(); !fp.IsZero() {
				d.Warm[e.idx] = fp
			}
		default:
			if subs := e.interval.subIntervalsFingerprints(); len(subs) > 0 {
				d.Hot[e.idx] = subs
			}
		}
		return true
	})
	return d
}

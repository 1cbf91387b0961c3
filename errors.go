package zreplog

import "github.com/pkg/errors"

// ErrOutOfBound is returned when a Timestamp's Time is too large to
// classify (above math.MaxInt64). It is also logged and surfaced to the caller
// of InsertEvent as NotInsertedAsOutOfBound rather than propagated.
var ErrOutOfBound = errors.New("zreplog: timestamp out of bound for interval classification")

// ErrConfigurationMismatch is returned by Reconcile when the two digests
// being compared were not produced under the same Configuration.
var ErrConfigurationMismatch = errors.New("zreplog: configuration fingerprint mismatch")

// ErrStorageIncompatible is returned by NewLogLatest when the supplied
// StorageCapability reports History_All; LogLatest only ever tracks the
// latest value per key and cannot back a full-history storage.
var ErrStorageIncompatible = errors.New("zreplog: storage capability is not History_Latest")

// ErrAlignmentTimeout is returned by an alignment step whose context
// deadline elapsed before a response arrived. It is transient: the caller
// should retry with backoff rather than treat it as a hard failure.
var ErrAlignmentTimeout = errors.New("zreplog: alignment request timed out")

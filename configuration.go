package zreplog

import (
	"encoding/binary"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
)

// ReplicaConfig carries the tunables that govern how a LogLatest classifies
// Timestamps into intervals/sub-intervals and where the hot/warm/cold era
// boundaries fall. Each field can be set from an environment variable,
// then overridden by an explicit ReplicaConfigOption; IntervalDuration and
// SubIntervals are finally clamped to a minimum of one second and one.
type ReplicaConfig struct {
	IntervalDuration time.Duration
	SubIntervals     uint32
	HotEraSize       uint64
	WarmEraSize      uint64
	PropagationDelay time.Duration
}

// ReplicaConfigOption mutates a ReplicaConfig under construction.
type ReplicaConfigOption func(*ReplicaConfig)

// OptIntervalDuration sets the width of each interval.
func OptIntervalDuration(d time.Duration) ReplicaConfigOption {
	return func(c *ReplicaConfig) { c.IntervalDuration = d }
}

// OptSubIntervals sets the number of sub-intervals per interval.
func OptSubIntervals(n uint32) ReplicaConfigOption {
	return func(c *ReplicaConfig) { c.SubIntervals = n }
}

// OptHotEraSize sets the number of intervals in the hot era.
func OptHotEraSize(n uint64) ReplicaConfigOption {
	return func(c *ReplicaConfig) { c.HotEraSize = n }
}

// OptWarmEraSize sets the number of intervals in the warm era.
func OptWarmEraSize(n uint64) ReplicaConfigOption {
	return func(c *ReplicaConfig) { c.WarmEraSize = n }
}

// OptPropagationDelay sets the lag applied when computing the last elapsed
// interval, to allow for in-flight publications that haven't arrived yet.
func OptPropagationDelay(d time.Duration) ReplicaConfigOption {
	return func(c *ReplicaConfig) { c.PropagationDelay = d }
}

// NewReplicaConfig builds a ReplicaConfig from ZREPLOG_* environment
// variables (falling back to hard-coded defaults), then applies opts.
func NewReplicaConfig(opts ...ReplicaConfigOption) ReplicaConfig {
	cfg := ReplicaConfig{
		IntervalDuration: envDuration("ZREPLOG_INTERVAL_DURATION", 30*time.Second),
		SubIntervals:     uint32(envInt("ZREPLOG_SUB_INTERVALS", 10)),
		HotEraSize:       uint64(envInt("ZREPLOG_HOT_ERA_SIZE", 4)),
		WarmEraSize:      uint64(envInt("ZREPLOG_WARM_ERA_SIZE", 28)),
		PropagationDelay: envDuration("ZREPLOG_PROPAGATION_DELAY", time.Second),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IntervalDuration <= 0 {
		cfg.IntervalDuration = time.Second
	}
	if cfg.SubIntervals < 1 {
		cfg.SubIntervals = 1
	}
	return cfg
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Configuration binds a ReplicaConfig to the identity of the storage it
// classifies Events for (storage key expression and optional prefix), and
// derives a stable configuration fingerprint from all of it. Two replicas
// must agree on a Configuration's fingerprint before their Digests can be
// meaningfully compared.
type Configuration struct {
	storageKeyExpr string
	prefix         *string
	replica        ReplicaConfig
	epoch          time.Time
	fp             Fingerprint
}

// NewConfiguration builds a Configuration for the given storage key
// expression, optional prefix, and replica tunables. epoch is the origin
// against which interval indices are computed; passing time.Time{} (the
// Unix epoch's Go zero value is NOT Unix epoch, callers should pass
// time.Unix(0,0) explicitly for wire compatibility with other
// implementations) lets tests pin a deterministic origin.
func NewConfiguration(storageKeyExpr string, prefix *string, replica ReplicaConfig, epoch time.Time) Configuration {
	c := Configuration{
		storageKeyExpr: storageKeyExpr,
		prefix:         prefix,
		replica:        replica,
		epoch:          epoch,
	}
	c.fp = c.computeFingerprint()
	return c
}

// Fingerprint returns the Configuration's stable, canonical fingerprint.
func (c Configuration) Fingerprint() Fingerprint {
	return c.fp
}

// computeFingerprint hashes a canonical byte serialization of the
// Configuration: storage key bytes, a 0x00 separator, prefix bytes (if
// present), then interval_duration/sub_intervals/hot_era_size/
// warm_era_size/propagation_delay as fixed-width little-endian integers, a
// layout every implementation must reproduce exactly for fingerprints to
// agree across nodes.
func (c Configuration) computeFingerprint() Fingerprint {
	var h xxh3.Hasher
	h.WriteString(c.storageKeyExpr)
	h.Write([]byte{0x00})
	if c.prefix != nil {
		h.WriteString(*c.prefix)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(c.replica.IntervalDuration.Nanoseconds()))
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:4], c.replica.SubIntervals)
	h.Write(buf[:4])
	binary.LittleEndian.PutUint64(buf[:], c.replica.HotEraSize)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], c.replica.WarmEraSize)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(c.replica.PropagationDelay.Nanoseconds()))
	h.Write(buf[:])
	return Fingerprint(h.Sum64())
}

// GetTimeClassification derives the (IntervalIdx, SubIntervalIdx) pair a
// Timestamp belongs to. It returns ErrOutOfBound if ts.Time exceeds
// math.MaxInt64, the largest nanosecond count the classification
// arithmetic represents.
func (c Configuration) GetTimeClassification(ts Timestamp) (IntervalIdx, SubIntervalIdx, error) {
	if ts.Time > math.MaxInt64 {
		// Casting to int64 below would wrap negative and silently produce a
		// bogus, small interval index instead of the enormous one a
		// Timestamp this far in the future actually classifies to.
		return 0, 0, ErrOutOfBound
	}
	elapsed := int64(ts.Time) - c.epoch.UnixNano()
	if elapsed < 0 {
		// A Timestamp before epoch classifies to interval 0, sub-interval 0;
		// this cannot happen with correctly minted HLC timestamps but is not
		// an overflow, so it is not an error.
		return 0, 0, nil
	}
	durNanos := c.replica.IntervalDuration.Nanoseconds()
	if durNanos <= 0 {
		durNanos = 1
	}
	idx := uint64(elapsed) / uint64(durNanos)
	withinInterval := uint64(elapsed) % uint64(durNanos)
	subDur := uint64(durNanos) / uint64(c.replica.SubIntervals)
	if subDur == 0 {
		subDur = 1
	}
	sub := withinInterval / subDur
	if sub >= uint64(c.replica.SubIntervals) {
		sub = uint64(c.replica.SubIntervals) - 1
	}
	return IntervalIdx(idx), SubIntervalIdx(sub), nil
}

// LastElapsedInterval returns the IntervalIdx that now minus
// PropagationDelay classifies to (that interval may still be in
// progress). If the delay
// places the notional upper bound before epoch, it returns 0: no
// warm/hot intervals exist yet.
func (c Configuration) LastElapsedInterval(now time.Time) (IntervalIdx, error) {
	adjusted := now.Add(-c.replica.PropagationDelay)
	idx, _, err := c.GetTimeClassification(Timestamp{Time: uint64(adjusted.UnixNano())})
	if err != nil {
		return 0, err
	}
	if adjusted.Before(c.epoch) {
		return 0, nil
	}
	return idx, nil
}

// HotEraLowerBound returns the IntervalIdx at which the hot era begins,
// given the era's upper bound, saturating at 0.
func (c Configuration) HotEraLowerBound(upper IntervalIdx) IntervalIdx {
	if uint64(upper)+1 <= c.replica.HotEraSize {
		return 0
	}
	return IntervalIdx(uint64(upper) + 1 - c.replica.HotEraSize)
}

// WarmEraLowerBound returns the IntervalIdx at which the warm era begins,
// given the hot era's upper bound, saturating at 0.
func (c Configuration) WarmEraLowerBound(upper IntervalIdx) IntervalIdx {
	hotLower := c.HotEraLowerBound(upper)
	if uint64(hotLower) <= c.replica.WarmEraSize {
		return 0
	}
	return IntervalIdx(uint64(hotLower) - c.replica.WarmEraSize)
}

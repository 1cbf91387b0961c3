package zreplog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AlignmentState is the coarse per-replica state machine: Fresh ->
// Aligning(peer) -> Aligned(peer), re-entering Aligning on a digest
// mismatch tick; Aligning is terminal-on-success (Aligned) or
// terminal-on-configuration-mismatch (Divergent).
type AlignmentState uint8

const (
	Fresh AlignmentState = iota
	Aligning
	Aligned
	Divergent
)

func (s AlignmentState) String() string {
	switch s {
	case Aligning:
		return "Aligning"
	case Aligned:
		return "Aligned"
	case Divergent:
		return "Divergent"
	default:
		return "Fresh"
	}
}

// ColdAlignmentRequest asks the peer for every (key, timestamp) pair in its
// cold era; cold mismatches are rare and cheap to replay wholesale.
type ColdAlignmentRequest struct{}

// WarmAlignmentRequest asks the peer for every Event in a diverging warm
// interval.
type WarmAlignmentRequest struct {
	IntervalIdx IntervalIdx
}

// HotAlignmentRequest asks the peer for every Event in a diverging hot
// sub-interval.
type HotAlignmentRequest struct {
	IntervalIdx    IntervalIdx
	SubIntervalIdx SubIntervalIdx
}

// AlignmentPlan is the set of requests Reconcile decided are needed to
// bring local up to date with remote. The caller executes these against
// its own transport (e.g. a multicast.Transport) and feeds returned Events
// back through LogLatest.InsertEvent/Update.
type AlignmentPlan struct {
	RequestCold bool
	Warm        []WarmAlignmentRequest
	Hot         []HotAlignmentRequest
}

// IsEmpty reports whether the plan requests nothing, i.e. the two digests
// already agree and no events need to be requested.
func (p *AlignmentPlan) IsEmpty() bool {
	return p != nil && !p.RequestCold && len(p.Warm) == 0 && len(p.Hot) == 0
}

// Reconcile compares local and remote and produces the drill-down plan:
// cold first, then per-interval warm, then per-sub-interval hot. It
// returns ErrConfigurationMismatch when the two digests were not produced
// under the same Configuration; callers should treat that as Divergent,
// not retriable.
func Reconcile(local, remote *Digest) (*AlignmentPlan, error) {
	if local.ConfigurationFingerprint != remote.ConfigurationFingerprint {
		return nil, ErrConfigurationMismatch
	}

	plan := &AlignmentPlan{}
	if local.ColdFingerprint != remote.ColdFingerprint {
		plan.RequestCold = true
	}

	seenWarm := make(map[IntervalIdx]struct{}, len(local.Warm)+len(remote.Warm))
	for idx := range local.Warm {
		seenWarm[idx] = struct{}{}
	}
	for idx := range remote.Warm {
		seenWarm[idx] = struct{}{}
	}
	for idx := range seenWarm {
		lfp, lok := local.Warm[idx]
		rfp, rok := remote.Warm[idx]
		if !lok || !rok || lfp != rfp {
			plan.Warm = append(plan.Warm, WarmAlignmentRequest{IntervalIdx: idx})
		}
	}

	seenHot := make(map[IntervalIdx]struct{}, len(local.Hot)+len(remote.Hot))
	for idx := range local.Hot {
		seenHot[idx] = struct{}{}
	}
	for idx := range remote.Hot {
		seenHot[idx] = struct{}{}
	}
	for idx := range seenHot {
		lsubs := local.Hot[idx]
		rsubs := remote.Hot[idx]
		seenSub := make(map[SubIntervalIdx]struct{}, len(lsubs)+len(rsubs))
		for subIdx := range lsubs {
			seenSub[subIdx] = struct{}{}
		}
		for subIdx := range rsubs {
			seenSub[subIdx] = struct{}{}
		}
		for subIdx := range seenSub {
			lfp, lok := lsubs[subIdx]
			rfp, rok := rsubs[subIdx]
			if !lok || !rok || lfp != rfp {
				plan.Hot = append(plan.Hot, HotAlignmentRequest{IntervalIdx: idx, SubIntervalIdx: subIdx})
			}
		}
	}

	return plan, nil
}

// NewAlignmentBackOff builds the exponential backoff policy for retrying
// alignment network errors: base = intervalDuration, cap =
// 30*intervalDuration, retried indefinitely until the caller's context is
// cancelled.
func NewAlignmentBackOff(intervalDuration time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = intervalDuration
	b.MaxInterval = 30 * intervalDuration
	b.MaxElapsedTime = 0
	return b
}

// AlignmentStep executes an AlignmentPlan that RunAlignment has already
// computed from the local and remote Digests: it requests the planned
// events from the peer and applies them to the local log. It is supplied
// by the caller because fetching the requested events requires a transport
// this package does not own.
type AlignmentStep func(ctx context.Context, plan *AlignmentPlan) error

// RunAlignment drives state from Fresh/Aligning through repeated
// AlignmentSteps with exponential backoff until it reaches Aligned, the
// context is cancelled, or Reconcile reports ErrConfigurationMismatch for
// the fetched remote Digest (in which case the final state is Divergent);
// errors returned by step are retried. perRequestTimeout bounds each
// individual step; a step that exceeds it returns ErrAlignmentTimeout and
// is retried rather than treated as fatal.
func RunAlignment(ctx context.Context, log *LogLatest, fetchRemoteDigest func(ctx context.Context) (*Digest, error), step AlignmentStep, perRequestTimeout time.Duration) (AlignmentState, error) {
	b := backoff.WithContext(NewAlignmentBackOff(log.configuration.replica.IntervalDuration), ctx)
	state := Aligning
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, perRequestTimeout)
		defer cancel()

		remote, err := fetchRemoteDigest(reqCtx)
		if err != nil {
			if reqCtx.Err() != nil {
				return ErrAlignmentTimeout
			}
			return err
		}

		local, err := log.Digest()
		if err != nil {
			return backoff.Permanent(err)
		}

		plan, err := Reconcile(local, remote)
		if err != nil {
			state = Divergent
			return backoff.Permanent(err)
		}
		if plan.IsEmpty() {
			state = Aligned
			return nil
		}
		if err := step(reqCtx, plan); err != nil {
			if reqCtx.Err() != nil {
				return ErrAlignmentTimeout
			}
			return err
		}
		state = Aligned
		return nil
	}

	if err := backoff.Retry(operation, b); err != nil {
		return state, err
	}
	return state, nil
}

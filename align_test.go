package zreplog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconcileConfigurationMismatch(t *testing.T) {
	local := newDigest(1)
	remote := newDigest(2)
	if _, err := Reconcile(local, remote); err != ErrConfigurationMismatch {
		t.Fatalf("expected ErrConfigurationMismatch, got %v", err)
	}
}

func TestReconcileColdMismatchRequestsCold(t *testing.T) {
	local := newDigest(1)
	local.ColdFingerprint = 7
	remote := newDigest(1)
	plan, err := Reconcile(local, remote)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.RequestCold {
		t.Fatal("expected a cold-era request")
	}
}

func TestReconcileWarmMismatchRequestsInterval(t *testing.T) {
	local := newDigest(1)
	local.Warm[5] = 42
	remote := newDigest(1)
	plan, err := Reconcile(local, remote)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Warm) != 1 || plan.Warm[0].IntervalIdx != 5 {
		t.Fatalf("expected a single warm request for interval 5, got %+v", plan.Warm)
	}
}

func TestReconcileHotMismatchRequestsSubInterval(t *testing.T) {
	local := newDigest(1)
	local.Hot[9] = map[SubIntervalIdx]Fingerprint{2: 99}
	remote := newDigest(1)
	remote.Hot[9] = map[SubIntervalIdx]Fingerprint{2: 100}
	plan, err := Reconcile(local, remote)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Hot) != 1 || plan.Hot[0].IntervalIdx != 9 || plan.Hot[0].SubIntervalIdx != 2 {
		t.Fatalf("expected one hot request for (9,2), got %+v", plan.Hot)
	}
}

func TestReconcileIdenticalDigestsProduceEmptyPlan(t *testing.T) {
	local := newDigest(1)
	local.Warm[1] = 5
	local.Hot[2] = map[SubIntervalIdx]Fingerprint{0: 9}
	remote := newDigest(1)
	remote.Warm[1] = 5
	remote.Hot[2] = map[SubIntervalIdx]Fingerprint{0: 9}
	plan, err := Reconcile(local, remote)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.IsEmpty() {
		t.Fatalf("expected an empty plan for identical digests, got %+v", plan)
	}
}

func TestRunAlignmentReachesAligned(t *testing.T) {
	l := newTestLog(t)
	fetch := func(ctx context.Context) (*Digest, error) {
		return newDigest(l.configuration.Fingerprint()), nil
	}
	step := func(ctx context.Context, plan *AlignmentPlan) error { return nil }

	state, err := RunAlignment(context.Background(), l, fetch, step, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if state != Aligned {
		t.Fatalf("expected Aligned, got %v", state)
	}
}

func TestRunAlignmentDivergesOnConfigurationMismatch(t *testing.T) {
	l := newTestLog(t)
	fetch := func(ctx context.Context) (*Digest, error) {
		return newDigest(l.configuration.Fingerprint() + 1), nil
	}
	step := func(ctx context.Context, plan *AlignmentPlan) error { return nil }

	state, err := RunAlignment(context.Background(), l, fetch, step, time.Second)
	if !errors.Is(err, ErrConfigurationMismatch) {
		t.Fatalf("expected ErrConfigurationMismatch, got %v", err)
	}
	if state != Divergent {
		t.Fatalf("expected Divergent, got %v", state)
	}
}

func TestAlignmentStateString(t *testing.T) {
	cases := map[AlignmentState]string{
		Fresh:     "Fresh",
		Aligning:  "Aligning",
		Aligned:   "Aligned",
		Divergent: "Divergent",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: expected %q, got %q", state, want, got)
		}
	}
}

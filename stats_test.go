package zreplog

import (
	"strings"
	"testing"
	"time"
)

func TestStatsCountsEventsAndIntervals(t *testing.T) {
	l := newTestLog(t)
	nid := [16]byte{1}
	l.InsertEvent(NewEvent(key("a"), Timestamp{Time: uint64(5 * time.Second), NodeID: nid}, Put))
	l.InsertEvent(NewEvent(key("b"), Timestamp{Time: uint64(35 * time.Second), NodeID: nid}, Put))

	stats := l.Stats()
	if stats.Events != 2 {
		t.Fatalf("expected 2 events, got %d", stats.Events)
	}
	if stats.Intervals != 2 {
		t.Fatalf("expected 2 distinct intervals, got %d", stats.Intervals)
	}
	if stats.BloomN == 0 {
		t.Fatal("expected the bloom filter to report at least one insertion")
	}
	if !strings.Contains(stats.String(), "events") {
		t.Fatal("expected the rendered table to mention events")
	}
}

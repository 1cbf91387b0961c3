package zreplog

import (
	"fmt"

	"github.com/gholt/brimtext"
)

// LogStats is a point-in-time snapshot of a LogLatest's size, for operators
// to log or expose.
type LogStats struct {
	Intervals       int
	Events          int
	BloomM          uint64
	BloomN          uint64
	BloomLoadFactor float64
}

// String renders stats as an aligned two-column table.
func (stats *LogStats) String() string {
	return brimtext.Align([][]string{
		{"intervals", fmt.Sprintf("%d", stats.Intervals)},
		{"events", fmt.Sprintf("%d", stats.Events)},
		{"bloomM", fmt.Sprintf("%d", stats.BloomM)},
		{"bloomN", fmt.Sprintf("%d", stats.BloomN)},
		{"bloomLoadFactor", fmt.Sprintf("%.4f", stats.BloomLoadFactor)},
	}, nil)
}

// Stats returns a snapshot of the log's current size and Bloom filter
// saturation.
func (l *LogLatest) Stats() *LogStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &LogStats{BloomM: l.bloom.M(), BloomN: l.bloom.N()}
	if stats.BloomM > 0 {
		stats.BloomLoadFactor = float64(stats.BloomN) / float64(stats.BloomM)
	}
	l.intervals.Ascend(func(e intervalEntry) bool {
		stats.Intervals++
		stats.Events += e.interval.count()
		return true
	})
	return stats
}

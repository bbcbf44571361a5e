package utils

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// LatencySummary describes the durations currently held by a LatencyWindow.
type LatencySummary struct {
	Count  int
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
	LastAt time.Time
}

// LatencyWindow keeps the most recent durations of a repeated operation,
// such as a monitor tick, for percentile reporting.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []float64
	size    int
	lastAt  time.Time
}

// NewLatencyWindow creates a window holding up to size durations.
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 512
	}
	return &LatencyWindow{size: size}
}

// Observe records an operation that started at and took d.
func (w *LatencyWindow) Observe(d time.Duration, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, float64(d))
	if over := len(w.samples) - w.size; over > 0 {
		copy(w.samples, w.samples[over:])
		w.samples = w.samples[:w.size]
	}
	if at.After(w.lastAt) {
		w.lastAt = at
	}
}

// Summary returns percentiles over the window. An empty window yields a zero
// summary.
func (w *LatencyWindow) Summary() LatencySummary {
	w.mu.Lock()
	data := append(stats.Float64Data(nil), w.samples...)
	lastAt := w.lastAt
	w.mu.Unlock()

	if len(data) == 0 {
		return LatencySummary{}
	}
	return LatencySummary{
		Count:  len(data),
		P50:    percentile(data, 50),
		P95:    percentile(data, 95),
		P99:    percentile(data, 99),
		Max:    durationOf(data.Max()),
		LastAt: lastAt,
	}
}

func percentile(data stats.Float64Data, p float64) time.Duration {
	return durationOf(stats.PercentileNearestRank(data, p))
}

func durationOf(v float64, err error) time.Duration {
	if err != nil {
		return 0
	}
	return time.Duration(v)
}

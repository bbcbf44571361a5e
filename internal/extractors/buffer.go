package extractors

import (
	"github.com/montanaflynn/stats"

	"github.com/betterdb/anomaly-engine/internal/models"
)

const (
	// DefaultMaxSamples bounds the rolling window of a metric buffer.
	DefaultMaxSamples = 300
	// DefaultMinSamples is the readiness floor before detection starts.
	DefaultMinSamples = 30
)

// MetricBuffer stores a bounded, time-ordered window of samples for one metric.
// It is not safe for concurrent use; each metric's buffer has a single owner.
type MetricBuffer struct {
	samples    []models.MetricSample
	maxSamples int
	minSamples int
}

// NewMetricBuffer creates a buffer holding up to maxSamples samples that
// reports ready once minSamples have been added. Non-positive values use the defaults.
func NewMetricBuffer(maxSamples, minSamples int) *MetricBuffer {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &MetricBuffer{
		samples:    make([]models.MetricSample, 0, maxSamples),
		maxSamples: maxSamples,
		minSamples: minSamples,
	}
}

// AddSample appends a sample, evicting the oldest one when over capacity.
func (b *MetricBuffer) AddSample(value float64, timestamp int64) {
	b.samples = append(b.samples, models.MetricSample{Timestamp: timestamp, Value: value})
	if len(b.samples) > b.maxSamples {
		copy(b.samples[0:], b.samples[1:])
		b.samples = b.samples[:b.maxSamples]
	}
}

// IsReady reports whether enough samples exist for a meaningful baseline.
func (b *MetricBuffer) IsReady() bool {
	return len(b.samples) >= b.minSamples
}

// Len returns the number of stored samples.
func (b *MetricBuffer) Len() int {
	return len(b.samples)
}

// Capacity returns the configured maximum sample count.
func (b *MetricBuffer) Capacity() int {
	return b.maxSamples
}

// Samples returns a copy of the stored samples, oldest first.
func (b *MetricBuffer) Samples() []models.MetricSample {
	return append([]models.MetricSample(nil), b.samples...)
}

// Mean returns the arithmetic mean, or 0 for an empty buffer.
func (b *MetricBuffer) Mean() float64 {
	mean, err := stats.Mean(b.values())
	if err != nil {
		return 0
	}
	return mean
}

// StdDev returns the population standard deviation, or 0 with fewer than two samples.
func (b *MetricBuffer) StdDev() float64 {
	if len(b.samples) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationPopulation(b.values())
	if err != nil {
		return 0
	}
	return sd
}

// ZScore returns how many standard deviations value lies from the mean.
// A zero standard deviation yields 0 rather than an infinity.
func (b *MetricBuffer) ZScore(value float64) float64 {
	sd := b.StdDev()
	if sd == 0 {
		return 0
	}
	return (value - b.Mean()) / sd
}

// Latest returns the most recent value, or 0 when empty.
func (b *MetricBuffer) Latest() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	return b.samples[len(b.samples)-1].Value
}

// Min returns the smallest stored value, or 0 when empty.
func (b *MetricBuffer) Min() float64 {
	min, err := stats.Min(b.values())
	if err != nil {
		return 0
	}
	return min
}

// Max returns the largest stored value, or 0 when empty.
func (b *MetricBuffer) Max() float64 {
	max, err := stats.Max(b.values())
	if err != nil {
		return 0
	}
	return max
}

// Stats snapshots the buffer for reporting.
func (b *MetricBuffer) Stats(metric models.MetricType) models.BufferStats {
	return models.BufferStats{
		MetricType:  metric,
		SampleCount: len(b.samples),
		Mean:        b.Mean(),
		StdDev:      b.StdDev(),
		Min:         b.Min(),
		Max:         b.Max(),
		Latest:      b.Latest(),
		IsReady:     b.IsReady(),
	}
}

func (b *MetricBuffer) values() stats.Float64Data {
	values := make(stats.Float64Data, len(b.samples))
	for i, s := range b.samples {
		values[i] = s.Value
	}
	return values
}

package extractors

import (
	"testing"

	"github.com/betterdb/anomaly-engine/internal/models"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		metric models.MetricType
		value  float64
		want   string
	}{
		{models.MetricMemoryUsed, 512, "512B"},
		{models.MetricMemoryUsed, 2048, "2.0KB"},
		{models.MetricMemoryUsed, 1.5 * 1024 * 1024, "1.5MB"},
		{models.MetricMemoryUsed, 3 * 1024 * 1024 * 1024, "3.0GB"},
		{models.MetricFragmentationRatio, 1.23456, "1.23"},
		{models.MetricOpsPerSec, 950, "950"},
		{models.MetricOpsPerSec, 12500, "12.5K"},
		{models.MetricKeyspaceMisses, 2_500_000, "2.5M"},
		{models.MetricConnections, 42.4, "42"},
	}
	for _, tc := range tests {
		if got := FormatValue(tc.metric, tc.value); got != tc.want {
			t.Fatalf("FormatValue(%s, %v) = %q, want %q", tc.metric, tc.value, got, tc.want)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(models.MetricConnections, models.AnomalySpike, 130, 100, 3)
	want := "Connections spike: 130 vs baseline 100 (+30.0%, z-score 3.00)"
	if msg != want {
		t.Fatalf("unexpected message: %q", msg)
	}

	msg = FormatMessage(models.MetricOpsPerSec, models.AnomalyDrop, 50, 0, 0)
	want = "Ops/sec drop: 50 vs baseline 0 (+0.0%, z-score 0.00)"
	if msg != want {
		t.Fatalf("unexpected zero-baseline message: %q", msg)
	}
}

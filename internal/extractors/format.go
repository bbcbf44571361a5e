package extractors

import (
	"fmt"
	"math"

	"github.com/betterdb/anomaly-engine/internal/models"
)

// FormatMessage renders the human-readable description attached to an event.
func FormatMessage(metric models.MetricType, anomalyType models.AnomalyType, value, baseline, zScore float64) string {
	pct := 0.0
	if baseline != 0 {
		pct = (value - baseline) / math.Abs(baseline) * 100
	}
	return fmt.Sprintf("%s %s: %s vs baseline %s (%+.1f%%, z-score %.2f)",
		metric.Label(),
		anomalyType,
		FormatValue(metric, value),
		FormatValue(metric, baseline),
		pct,
		zScore,
	)
}

// FormatValue renders a metric value in units suited to the metric.
func FormatValue(metric models.MetricType, value float64) string {
	switch metric {
	case models.MetricMemoryUsed:
		return formatBytes(value)
	case models.MetricFragmentationRatio:
		return fmt.Sprintf("%.2f", value)
	default:
		return formatCount(value)
	}
}

func formatBytes(value float64) string {
	const unit = 1024.0
	abs := math.Abs(value)
	switch {
	case abs >= unit*unit*unit:
		return fmt.Sprintf("%.1fGB", value/(unit*unit*unit))
	case abs >= unit*unit:
		return fmt.Sprintf("%.1fMB", value/(unit*unit))
	case abs >= unit:
		return fmt.Sprintf("%.1fKB", value/unit)
	default:
		return fmt.Sprintf("%.0fB", value)
	}
}

func formatCount(value float64) string {
	abs := math.Abs(value)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("%.1fM", value/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.1fK", value/1_000)
	default:
		return fmt.Sprintf("%.0f", value)
	}
}

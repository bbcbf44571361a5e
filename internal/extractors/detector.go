package extractors

import (
	"math"

	"github.com/google/uuid"

	"github.com/betterdb/anomaly-engine/internal/models"
)

const (
	DefaultWarningZScore       = 2.0
	DefaultCriticalZScore      = 3.0
	DefaultConsecutiveRequired = 3
	DefaultCooldownMs          = int64(60000)
)

// DetectorConfig carries optional per-metric tuning. Nil fields fall back to
// the defaults; absolute thresholds default to +Inf (disabled).
type DetectorConfig struct {
	WarningZScore       *float64 `yaml:"warningZScore"`
	CriticalZScore      *float64 `yaml:"criticalZScore"`
	WarningThreshold    *float64 `yaml:"warningThreshold"`
	CriticalThreshold   *float64 `yaml:"criticalThreshold"`
	ConsecutiveRequired *int     `yaml:"consecutiveRequired"`
	CooldownMs          *int64   `yaml:"cooldownMs"`
	DetectDrops         *bool    `yaml:"detectDrops"`
}

// DetectorSettings is a DetectorConfig with every default applied.
type DetectorSettings struct {
	WarningZScore       float64
	CriticalZScore      float64
	WarningThreshold    float64
	CriticalThreshold   float64
	ConsecutiveRequired int
	CooldownMs          int64
	DetectDrops         bool
}

// Ptr returns a pointer to v; handy for building DetectorConfig literals.
func Ptr[T any](v T) *T {
	return &v
}

// Merge returns c with every non-nil field of override applied on top.
func (c DetectorConfig) Merge(override DetectorConfig) DetectorConfig {
	if override.WarningZScore != nil {
		c.WarningZScore = override.WarningZScore
	}
	if override.CriticalZScore != nil {
		c.CriticalZScore = override.CriticalZScore
	}
	if override.WarningThreshold != nil {
		c.WarningThreshold = override.WarningThreshold
	}
	if override.CriticalThreshold != nil {
		c.CriticalThreshold = override.CriticalThreshold
	}
	if override.ConsecutiveRequired != nil {
		c.ConsecutiveRequired = override.ConsecutiveRequired
	}
	if override.CooldownMs != nil {
		c.CooldownMs = override.CooldownMs
	}
	if override.DetectDrops != nil {
		c.DetectDrops = override.DetectDrops
	}
	return c
}

// Resolve applies defaults to every unset field.
func (c DetectorConfig) Resolve() DetectorSettings {
	s := DetectorSettings{
		WarningZScore:       DefaultWarningZScore,
		CriticalZScore:      DefaultCriticalZScore,
		WarningThreshold:    math.Inf(1),
		CriticalThreshold:   math.Inf(1),
		ConsecutiveRequired: DefaultConsecutiveRequired,
		CooldownMs:          DefaultCooldownMs,
	}
	if c.WarningZScore != nil {
		s.WarningZScore = *c.WarningZScore
	}
	if c.CriticalZScore != nil {
		s.CriticalZScore = *c.CriticalZScore
	}
	if c.WarningThreshold != nil {
		s.WarningThreshold = *c.WarningThreshold
	}
	if c.CriticalThreshold != nil {
		s.CriticalThreshold = *c.CriticalThreshold
	}
	if c.ConsecutiveRequired != nil && *c.ConsecutiveRequired > 0 {
		s.ConsecutiveRequired = *c.ConsecutiveRequired
	}
	if c.CooldownMs != nil && *c.CooldownMs >= 0 {
		s.CooldownMs = *c.CooldownMs
	}
	if c.DetectDrops != nil {
		s.DetectDrops = *c.DetectDrops
	}
	return s
}

// SpikeDetector confirms spikes and drops on a single metric using z-scores,
// absolute thresholds, consecutive-sample confirmation and a cooldown.
type SpikeDetector struct {
	metric   models.MetricType
	settings DetectorSettings

	streakCount int
	streakValue float64
	streakAt    int64

	alerted     bool
	lastAlertAt int64
}

// NewSpikeDetector builds a detector for metric.
func NewSpikeDetector(metric models.MetricType, cfg DetectorConfig) *SpikeDetector {
	return &SpikeDetector{metric: metric, settings: cfg.Resolve()}
}

// Metric returns the tracked metric type.
func (d *SpikeDetector) Metric() models.MetricType {
	return d.metric
}

// Settings returns the resolved configuration.
func (d *SpikeDetector) Settings() DetectorSettings {
	return d.settings
}

// Streak returns the current number of consecutive qualifying samples.
func (d *SpikeDetector) Streak() int {
	return d.streakCount
}

// Pending returns the unconfirmed streak: its length and the most recent
// qualifying value and timestamp.
func (d *SpikeDetector) Pending() (count int, value float64, at int64) {
	return d.streakCount, d.streakValue, d.streakAt
}

// Reset clears the confirmation streak and any active cooldown.
func (d *SpikeDetector) Reset() {
	d.clearStreak()
	d.alerted = false
	d.lastAlertAt = 0
}

// Detect evaluates value against the buffer baseline and returns an event
// once enough consecutive samples qualify. It returns nil otherwise.
//
// An active cooldown returns before the streak is evaluated. Emission clears
// the streak, so samples seen during cooldown never count toward the next
// confirmation.
func (d *SpikeDetector) Detect(buf *MetricBuffer, value float64, timestamp int64) *models.AnomalyEvent {
	if buf == nil || !buf.IsReady() {
		return nil
	}
	if d.alerted && timestamp-d.lastAlertAt < d.settings.CooldownMs {
		return nil
	}

	mean := buf.Mean()
	stdDev := buf.StdDev()
	zScore := buf.ZScore(value)
	isDrop := zScore < 0

	if isDrop && !d.settings.DetectDrops {
		return nil
	}

	severity, threshold := d.classify(value, zScore)
	if severity == "" {
		d.clearStreak()
		return nil
	}

	d.streakCount++
	d.streakValue = value
	d.streakAt = timestamp
	if d.streakCount < d.settings.ConsecutiveRequired {
		return nil
	}

	d.alerted = true
	d.lastAlertAt = timestamp
	d.clearStreak()

	anomalyType := models.AnomalySpike
	if isDrop {
		anomalyType = models.AnomalyDrop
	}

	return &models.AnomalyEvent{
		ID:          uuid.New().String(),
		Timestamp:   timestamp,
		MetricType:  d.metric,
		AnomalyType: anomalyType,
		Severity:    severity,
		Value:       value,
		Baseline:    mean,
		StdDev:      stdDev,
		ZScore:      zScore,
		Threshold:   threshold,
		Message:     FormatMessage(d.metric, anomalyType, value, mean, zScore),
		Resolved:    false,
	}
}

// IsQuiet reports whether value sits below every warning condition, i.e. an
// open anomaly on this metric may be considered cleared.
func (d *SpikeDetector) IsQuiet(buf *MetricBuffer, value float64) bool {
	if buf == nil || !buf.IsReady() {
		return false
	}
	zScore := buf.ZScore(value)
	if zScore < 0 && !d.settings.DetectDrops {
		return value < d.settings.WarningThreshold
	}
	severity, _ := d.classify(value, zScore)
	return severity == ""
}

// classify returns the severity and the threshold that fired, or an empty
// severity when neither the z-score nor the absolute thresholds qualify.
func (d *SpikeDetector) classify(value, zScore float64) (models.Severity, float64) {
	var (
		severity  models.Severity
		threshold float64
	)

	absZ := math.Abs(zScore)
	switch {
	case absZ >= d.settings.CriticalZScore:
		severity, threshold = models.SeverityCritical, d.settings.CriticalZScore
	case absZ >= d.settings.WarningZScore:
		severity, threshold = models.SeverityWarning, d.settings.WarningZScore
	}

	// Absolute critical always wins; absolute warning only fills a gap.
	if value >= d.settings.CriticalThreshold {
		severity, threshold = models.SeverityCritical, d.settings.CriticalThreshold
	} else if value >= d.settings.WarningThreshold && severity == "" {
		severity, threshold = models.SeverityWarning, d.settings.WarningThreshold
	}
	return severity, threshold
}

func (d *SpikeDetector) clearStreak() {
	d.streakCount = 0
	d.streakValue = 0
	d.streakAt = 0
}

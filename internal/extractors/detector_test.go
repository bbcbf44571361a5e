package extractors

import (
	"math"
	"strings"
	"testing"

	"github.com/betterdb/anomaly-engine/internal/models"
)

// warmBuffer returns a ready buffer with mean 100 and population stddev 10.
func warmBuffer(t *testing.T) *MetricBuffer {
	t.Helper()
	buf := NewMetricBuffer(300, 30)
	for i := 0; i < 30; i++ {
		v := 90.0
		if i%2 == 1 {
			v = 110
		}
		buf.AddSample(v, int64(-100000+i*1000))
	}
	if buf.Mean() != 100 || buf.StdDev() != 10 {
		t.Fatalf("warm buffer: expected mean 100 stddev 10, got %v/%v", buf.Mean(), buf.StdDev())
	}
	return buf
}

func TestSpikeDetectorConfirmationAndCooldown(t *testing.T) {
	buf := warmBuffer(t)
	det := NewSpikeDetector(models.MetricConnections, DetectorConfig{
		WarningZScore:       Ptr(2.0),
		ConsecutiveRequired: Ptr(2),
		CooldownMs:          Ptr(int64(1000)),
	})

	if ev := det.Detect(buf, 130, 0); ev != nil {
		t.Fatalf("expected no event before confirmation, got %+v", ev)
	}
	if det.Streak() != 1 {
		t.Fatalf("expected streak 1, got %d", det.Streak())
	}

	ev := det.Detect(buf, 130, 100)
	if ev == nil {
		t.Fatalf("expected event on second qualifying sample")
	}
	if ev.Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", ev.Severity)
	}
	if ev.AnomalyType != models.AnomalySpike || ev.MetricType != models.MetricConnections {
		t.Fatalf("unexpected event classification: %+v", ev)
	}
	if ev.Value != 130 || ev.Baseline != 100 || ev.StdDev != 10 || ev.ZScore != 3 || ev.Threshold != 3 {
		t.Fatalf("unexpected event numbers: %+v", ev)
	}
	if ev.ID == "" || ev.Resolved || ev.ResolvedAt != nil || ev.CorrelationID != "" {
		t.Fatalf("unexpected event bookkeeping: %+v", ev)
	}
	if det.Streak() != 0 {
		t.Fatalf("expected streak reset after emission")
	}

	if ev := det.Detect(buf, 130, 200); ev != nil {
		t.Fatalf("expected cooldown to suppress event")
	}

	// Cooldown has expired; a fresh confirmation streak is required.
	if ev := det.Detect(buf, 130, 1100); ev != nil {
		t.Fatalf("expected first post-cooldown sample to start a new streak")
	}
	if ev := det.Detect(buf, 130, 1200); ev == nil {
		t.Fatalf("expected new event after cooldown")
	}
}

// Emission clears the streak and starts the cooldown in the same step, so
// every cooldown begins with an empty streak. Leaving the streak untouched
// during cooldown and resetting it there are therefore indistinguishable; the
// observable rule is that suppressed samples never count toward confirmation.
func TestSpikeDetectorCooldownDoesNotAdvanceStreak(t *testing.T) {
	buf := warmBuffer(t)
	det := NewSpikeDetector(models.MetricOpsPerSec, DetectorConfig{
		ConsecutiveRequired: Ptr(2),
		CooldownMs:          Ptr(int64(1000)),
	})
	if ev := det.Detect(buf, 140, 0); ev != nil {
		t.Fatalf("expected confirmation to be pending")
	}
	if ev := det.Detect(buf, 140, 100); ev == nil {
		t.Fatalf("expected event on second qualifying sample")
	}

	for _, ts := range []int64{200, 600, 1099} {
		if ev := det.Detect(buf, 140, ts); ev != nil {
			t.Fatalf("expected suppression at %d", ts)
		}
		if det.Streak() != 0 {
			t.Fatalf("cooldown advanced streak at %d", ts)
		}
	}
	if ev := det.Detect(buf, 140, 1100); ev != nil {
		t.Fatalf("expected streak to restart after cooldown")
	}
	if det.Streak() != 1 {
		t.Fatalf("expected streak 1 after cooldown, got %d", det.Streak())
	}
	if ev := det.Detect(buf, 140, 1200); ev == nil {
		t.Fatalf("expected event once the new streak is confirmed")
	}
}

func TestSpikeDetectorNotReady(t *testing.T) {
	buf := NewMetricBuffer(300, 30)
	for i := 0; i < 29; i++ {
		buf.AddSample(float64(i%2)*20+90, int64(i))
	}
	det := NewSpikeDetector(models.MetricConnections, DetectorConfig{ConsecutiveRequired: Ptr(1)})
	if ev := det.Detect(buf, 1e9, 100); ev != nil {
		t.Fatalf("expected no event from unready buffer")
	}
	if det.Streak() != 0 {
		t.Fatalf("unready buffer must not change state")
	}
	if ev := det.Detect(nil, 1e9, 100); ev != nil {
		t.Fatalf("expected nil buffer to yield no event")
	}
}

func TestSpikeDetectorFlatHistory(t *testing.T) {
	buf := NewMetricBuffer(300, 5)
	for i := 0; i < 10; i++ {
		buf.AddSample(10, int64(i))
	}

	det := NewSpikeDetector(models.MetricBlockedClients, DetectorConfig{ConsecutiveRequired: Ptr(1)})
	for _, v := range []float64{0, 11, 1000, 1e9} {
		if ev := det.Detect(buf, v, 100); ev != nil {
			t.Fatalf("flat history produced z-score anomaly for %v", v)
		}
	}

	det = NewSpikeDetector(models.MetricBlockedClients, DetectorConfig{
		ConsecutiveRequired: Ptr(1),
		CriticalThreshold:   Ptr(50.0),
	})
	ev := det.Detect(buf, 60, 100)
	if ev == nil {
		t.Fatalf("expected absolute threshold anomaly")
	}
	if ev.ZScore != 0 || ev.Severity != models.SeverityCritical || ev.Threshold != 50 {
		t.Fatalf("unexpected flat-history event: %+v", ev)
	}
	if ev.AnomalyType != models.AnomalySpike {
		t.Fatalf("expected spike type for value above flat baseline, got %s", ev.AnomalyType)
	}
	if strings.Contains(ev.Message, "NaN") || strings.Contains(ev.Message, "Inf") {
		t.Fatalf("message leaked non-finite number: %s", ev.Message)
	}
}

func TestSpikeDetectorDrops(t *testing.T) {
	buf := warmBuffer(t)

	det := NewSpikeDetector(models.MetricOpsPerSec, DetectorConfig{ConsecutiveRequired: Ptr(1)})
	if ev := det.Detect(buf, 60, 0); ev != nil {
		t.Fatalf("expected drops ignored by default")
	}

	det = NewSpikeDetector(models.MetricOpsPerSec, DetectorConfig{
		ConsecutiveRequired: Ptr(1),
		DetectDrops:         Ptr(true),
	})
	ev := det.Detect(buf, 75, 0)
	if ev == nil {
		t.Fatalf("expected drop event")
	}
	if ev.AnomalyType != models.AnomalyDrop || ev.Severity != models.SeverityWarning || ev.ZScore != -2.5 {
		t.Fatalf("unexpected drop event: %+v", ev)
	}
}

func TestSpikeDetectorIgnoredDropKeepsStreak(t *testing.T) {
	buf := warmBuffer(t)
	det := NewSpikeDetector(models.MetricConnections, DetectorConfig{ConsecutiveRequired: Ptr(3)})

	det.Detect(buf, 130, 0)
	det.Detect(buf, 60, 10)
	if det.Streak() != 1 {
		t.Fatalf("ignored drop should not touch streak, got %d", det.Streak())
	}
	det.Detect(buf, 101, 20)
	if det.Streak() != 0 {
		t.Fatalf("non-qualifying sample should reset streak, got %d", det.Streak())
	}
}

func TestSpikeDetectorAbsoluteThresholds(t *testing.T) {
	tests := []struct {
		name          string
		cfg           DetectorConfig
		value         float64
		wantSeverity  models.Severity
		wantThreshold float64
	}{
		{
			name:          "warning threshold fills gap",
			cfg:           DetectorConfig{WarningThreshold: Ptr(110.0)},
			value:         115,
			wantSeverity:  models.SeverityWarning,
			wantThreshold: 110,
		},
		{
			name:          "warning threshold does not override z-score",
			cfg:           DetectorConfig{WarningThreshold: Ptr(110.0)},
			value:         125,
			wantSeverity:  models.SeverityWarning,
			wantThreshold: 2,
		},
		{
			name:          "critical threshold overrides z-score warning",
			cfg:           DetectorConfig{CriticalThreshold: Ptr(120.0)},
			value:         125,
			wantSeverity:  models.SeverityCritical,
			wantThreshold: 120,
		},
		{
			name:          "critical threshold overrides z-score critical",
			cfg:           DetectorConfig{CriticalThreshold: Ptr(120.0)},
			value:         140,
			wantSeverity:  models.SeverityCritical,
			wantThreshold: 120,
		},
		{
			name:          "z-score only",
			cfg:           DetectorConfig{},
			value:         125,
			wantSeverity:  models.SeverityWarning,
			wantThreshold: 2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := warmBuffer(t)
			cfg := tc.cfg.Merge(DetectorConfig{ConsecutiveRequired: Ptr(1)})
			ev := NewSpikeDetector(models.MetricConnections, cfg).Detect(buf, tc.value, 0)
			if ev == nil {
				t.Fatalf("expected event")
			}
			if ev.Severity != tc.wantSeverity || ev.Threshold != tc.wantThreshold {
				t.Fatalf("expected %s/%v, got %s/%v", tc.wantSeverity, tc.wantThreshold, ev.Severity, ev.Threshold)
			}
		})
	}
}

func TestSpikeDetectorSeverityFromConfirmingSample(t *testing.T) {
	buf := warmBuffer(t)
	det := NewSpikeDetector(models.MetricConnections, DetectorConfig{ConsecutiveRequired: Ptr(2)})
	det.Detect(buf, 140, 0)
	ev := det.Detect(buf, 125, 10)
	if ev == nil || ev.Severity != models.SeverityWarning {
		t.Fatalf("expected warning from confirming sample, got %+v", ev)
	}
}

func TestSpikeDetectorIsQuiet(t *testing.T) {
	buf := warmBuffer(t)
	det := NewSpikeDetector(models.MetricConnections, DetectorConfig{})
	if !det.IsQuiet(buf, 105) {
		t.Fatalf("expected 105 to be quiet")
	}
	if det.IsQuiet(buf, 130) {
		t.Fatalf("expected 130 to be noisy")
	}
	if !det.IsQuiet(buf, 50) {
		t.Fatalf("expected ignored drop to count as quiet")
	}
}

func TestSpikeDetectorReset(t *testing.T) {
	buf := warmBuffer(t)
	det := NewSpikeDetector(models.MetricConnections, DetectorConfig{ConsecutiveRequired: Ptr(1)})
	if det.Detect(buf, 140, 0) == nil {
		t.Fatalf("expected event")
	}
	det.Reset()
	if det.Detect(buf, 140, 1) == nil {
		t.Fatalf("expected reset to clear cooldown")
	}
}

func TestDetectorConfigResolveDefaults(t *testing.T) {
	s := DetectorConfig{}.Resolve()
	if s.WarningZScore != 2 || s.CriticalZScore != 3 || s.ConsecutiveRequired != 3 || s.CooldownMs != 60000 || s.DetectDrops {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if !math.IsInf(s.WarningThreshold, 1) || !math.IsInf(s.CriticalThreshold, 1) {
		t.Fatalf("expected absolute thresholds disabled by default")
	}

	merged := DetectorConfig{CooldownMs: Ptr(int64(5))}.Merge(DetectorConfig{DetectDrops: Ptr(true)})
	s = merged.Resolve()
	if s.CooldownMs != 5 || !s.DetectDrops {
		t.Fatalf("unexpected merged settings: %+v", s)
	}
}

func TestSpikeDetectorPending(t *testing.T) {
	buf := warmBuffer(t)
	det := NewSpikeDetector(models.MetricConnections, DetectorConfig{})
	det.Detect(buf, 130, 500)
	count, value, at := det.Pending()
	if count != 1 || value != 130 || at != 500 {
		t.Fatalf("unexpected pending streak: %d %v %d", count, value, at)
	}
	det.Detect(buf, 100, 600)
	if count, _, _ := det.Pending(); count != 0 {
		t.Fatalf("quiet sample should clear the streak")
	}
}

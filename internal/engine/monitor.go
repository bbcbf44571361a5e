package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/betterdb/anomaly-engine/internal/extractors"
	"github.com/betterdb/anomaly-engine/internal/metrics"
	"github.com/betterdb/anomaly-engine/internal/models"
	"github.com/betterdb/anomaly-engine/internal/storage"
	"github.com/betterdb/anomaly-engine/internal/utils"
)

// DefaultResolveAfter is the number of consecutive quiet ticks after which a
// metric's open anomalies are marked resolved.
const DefaultResolveAfter = 3

// Sampler yields the current readings of the monitored instance.
type Sampler interface {
	Sample(ctx context.Context) ([]models.Reading, error)
}

// Tracker pairs the buffer and detector owned for one metric.
type Tracker struct {
	Buffer   *extractors.MetricBuffer
	Detector *extractors.SpikeDetector

	open       []string
	quietTicks int
}

// MonitorConfig configures a Monitor. Zero values use defaults.
type MonitorConfig struct {
	MaxSamples   int
	MinSamples   int
	Detectors    map[models.MetricType]extractors.DetectorConfig
	WindowMs     int64
	Rules        []PatternRule
	ResolveAfter int
	Retention    time.Duration
}

// DefaultDetectorConfigs returns per-metric tuning applied beneath any
// configured overrides.
func DefaultDetectorConfigs() map[models.MetricType]extractors.DetectorConfig {
	return map[models.MetricType]extractors.DetectorConfig{
		models.MetricOpsPerSec: {DetectDrops: extractors.Ptr(true)},
		models.MetricMemoryUsed: {
			ConsecutiveRequired: extractors.Ptr(5),
		},
		models.MetricSlowlogCount: {ConsecutiveRequired: extractors.Ptr(2)},
		models.MetricACLDenied: {
			WarningThreshold:    extractors.Ptr(10.0),
			CriticalThreshold:   extractors.Ptr(50.0),
			ConsecutiveRequired: extractors.Ptr(1),
		},
		models.MetricEvictedKeys: {ConsecutiveRequired: extractors.Ptr(2)},
		models.MetricBlockedClients: {
			WarningThreshold:  extractors.Ptr(10.0),
			CriticalThreshold: extractors.Ptr(50.0),
		},
		models.MetricFragmentationRatio: {
			WarningThreshold:    extractors.Ptr(1.5),
			CriticalThreshold:   extractors.Ptr(2.0),
			ConsecutiveRequired: extractors.Ptr(5),
		},
	}
}

// Monitor owns one Tracker per metric, feeds them sampled readings, and
// correlates, persists and resolves the resulting anomalies.
type Monitor struct {
	mu           sync.Mutex
	trackers     map[models.MetricType]*Tracker
	correlator   *Correlator
	sampler      Sampler
	store        storage.Store
	logger       *slog.Logger
	resolveAfter int
	retention    time.Duration
	pending      []models.AnomalyEvent
	latency      *utils.LatencyWindow
	now          func() time.Time
}

// NewMonitor builds trackers for every known metric. A nil store keeps
// results in memory only.
func NewMonitor(cfg MonitorConfig, sampler Sampler, store storage.Store, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = storage.NewMemoryStore(0, 0)
	}
	if cfg.ResolveAfter <= 0 {
		cfg.ResolveAfter = DefaultResolveAfter
	}

	defaults := DefaultDetectorConfigs()
	trackers := make(map[models.MetricType]*Tracker, len(models.AllMetricTypes()))
	for _, metric := range models.AllMetricTypes() {
		detectorCfg := defaults[metric].Merge(cfg.Detectors[metric])
		trackers[metric] = &Tracker{
			Buffer:   extractors.NewMetricBuffer(cfg.MaxSamples, cfg.MinSamples),
			Detector: extractors.NewSpikeDetector(metric, detectorCfg),
		}
	}

	return &Monitor{
		trackers:     trackers,
		correlator:   NewCorrelator(cfg.WindowMs, cfg.Rules),
		sampler:      sampler,
		store:        store,
		logger:       logger,
		resolveAfter: cfg.ResolveAfter,
		retention:    cfg.Retention,
		latency:      utils.NewLatencyWindow(512),
		now:          time.Now,
	}
}

// Correlator returns the correlator used for grouping.
func (m *Monitor) Correlator() *Correlator {
	return m.correlator
}

// Observe ingests a single reading: the sample is added to the metric's
// buffer, detection runs on it, and any resulting event is stored like one
// produced by Tick. Unknown metrics are ignored.
func (m *Monitor) Observe(ctx context.Context, metric models.MetricType, value float64, timestamp int64) (*models.AnomalyEvent, error) {
	events, err := m.Ingest(ctx, []models.Reading{{MetricType: metric, Value: value, Timestamp: timestamp}})
	if len(events) == 0 {
		return nil, err
	}
	return &events[0], err
}

func (m *Monitor) observeLocked(metric models.MetricType, value float64, timestamp int64) *models.AnomalyEvent {
	tracker, ok := m.trackers[metric]
	if !ok {
		m.logger.Debug("ignoring reading for untracked metric", slog.String("metric", string(metric)))
		return nil
	}
	tracker.Buffer.AddSample(value, timestamp)
	event := tracker.Detector.Detect(tracker.Buffer, value, timestamp)
	if event == nil {
		if count, pendingValue, at := tracker.Detector.Pending(); count > 0 {
			m.logger.Debug("anomaly pending confirmation",
				slog.String("metric", string(metric)),
				slog.Int("streak", count),
				slog.Float64("value", pendingValue),
				slog.Int64("at", at),
			)
		}
		return nil
	}
	tracker.open = append(tracker.open, event.ID)
	tracker.quietTicks = 0
	m.pending = append(m.pending, *event)
	return event
}

// Tick samples the instance once and ingests the readings.
func (m *Monitor) Tick(ctx context.Context) ([]models.AnomalyEvent, error) {
	start := m.now()
	defer func() {
		elapsed := m.now().Sub(start)
		m.latency.Observe(elapsed, start)
		metrics.ObserveTick(elapsed)
	}()

	readings, err := m.sampler.Sample(ctx)
	if err != nil {
		metrics.ObserveSampleError()
		return nil, utils.NewAppError(utils.OpSample, "sample instance", err)
	}
	return m.Ingest(ctx, readings)
}

// Ingest observes readings, resolves metrics that have settled, persists new
// events and emits correlation groups whose window has closed. Returned events
// that fell into a closed group carry its correlation fields.
func (m *Monitor) Ingest(ctx context.Context, readings []models.Reading) ([]models.AnomalyEvent, error) {
	m.mu.Lock()
	var (
		detected []models.AnomalyEvent
		resolved = make(map[int64][]string)
	)
	for _, r := range readings {
		if event := m.observeLocked(r.MetricType, r.Value, r.Timestamp); event != nil {
			detected = append(detected, *event)
			metrics.ObserveAnomaly(string(event.MetricType), string(event.Severity), string(event.AnomalyType))
			m.logger.Info("anomaly detected",
				slog.String("id", event.ID),
				slog.String("metric", string(event.MetricType)),
				slog.String("severity", string(event.Severity)),
				slog.String("message", event.Message),
			)
			continue
		}
		if ids := m.settleLocked(r); len(ids) > 0 {
			resolved[r.Timestamp] = append(resolved[r.Timestamp], ids...)
		}
	}
	groups := m.closedGroupsLocked(m.now().UnixMilli())
	m.mu.Unlock()

	if err := m.store.SaveEvents(ctx, detected); err != nil {
		return detected, utils.NewAppError(utils.OpPersist, "save events", err)
	}
	for at, ids := range resolved {
		n, err := m.store.ResolveEvents(ctx, ids, at)
		if err != nil {
			return detected, utils.NewAppError(utils.OpResolve, "resolve events", err)
		}
		metrics.ObserveResolved(n)
		m.logger.Info("anomalies resolved", slog.Int("count", n), slog.Int64("at", at))
	}
	if err := m.persistGroups(ctx, groups); err != nil {
		return detected, err
	}
	Annotate(detected, groups)
	return detected, nil
}

// settleLocked counts quiet ticks for a metric with open anomalies and returns
// their IDs once the metric has been quiet long enough.
func (m *Monitor) settleLocked(r models.Reading) []string {
	tracker, ok := m.trackers[r.MetricType]
	if !ok || len(tracker.open) == 0 {
		return nil
	}
	if !tracker.Detector.IsQuiet(tracker.Buffer, r.Value) {
		tracker.quietTicks = 0
		return nil
	}
	tracker.quietTicks++
	if tracker.quietTicks < m.resolveAfter {
		return nil
	}
	ids := tracker.open
	tracker.open = nil
	tracker.quietTicks = 0
	return ids
}

// closedGroupsLocked correlates pending events and returns the groups whose
// window ended before nowMs. Events of still-open windows stay pending.
func (m *Monitor) closedGroupsLocked(nowMs int64) []models.CorrelatedAnomalyGroup {
	if len(m.pending) == 0 {
		return nil
	}
	groups := m.correlator.Correlate(m.pending)
	closed := 0
	for closed < len(groups) && nowMs-groups[closed].Timestamp > m.correlator.WindowMs() {
		closed++
	}
	if closed == 0 {
		return nil
	}

	keep := make(map[string]struct{})
	for _, g := range groups[closed:] {
		for _, member := range g.Anomalies {
			keep[member.ID] = struct{}{}
		}
	}
	remaining := m.pending[:0]
	for _, ev := range m.pending {
		if _, ok := keep[ev.ID]; ok {
			remaining = append(remaining, ev)
		}
	}
	m.pending = remaining
	return groups[:closed]
}

// Flush correlates and persists every pending event regardless of whether
// its window has closed.
func (m *Monitor) Flush(ctx context.Context) error {
	m.mu.Lock()
	groups := m.correlator.Correlate(m.pending)
	m.pending = nil
	m.mu.Unlock()
	if err := m.persistGroups(ctx, groups); err != nil {
		return utils.NewAppError(utils.OpFlush, "flush pending groups", err)
	}
	return nil
}

func (m *Monitor) persistGroups(ctx context.Context, groups []models.CorrelatedAnomalyGroup) error {
	if len(groups) == 0 {
		return nil
	}
	if err := m.store.SaveGroups(ctx, groups); err != nil {
		return utils.NewAppError(utils.OpPersist, "save groups", err)
	}
	for _, g := range groups {
		metrics.ObserveGroup(string(g.Pattern))
		m.logger.Info("correlated anomaly group",
			slog.String("correlation_id", g.CorrelationID),
			slog.String("pattern", string(g.Pattern)),
			slog.String("severity", string(g.Severity)),
			slog.Int("anomalies", len(g.Anomalies)),
			slog.String("diagnosis", g.Diagnosis),
		)
	}
	return nil
}

// Run ticks every interval until ctx is cancelled, then flushes pending
// events. Ticks never overlap.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prune <-chan time.Time
	if m.retention > 0 {
		pruneTicker := time.NewTicker(pruneInterval(m.retention))
		defer pruneTicker.Stop()
		prune = pruneTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := m.Flush(flushCtx); err != nil {
				m.logger.Warn("flush pending anomalies failed", slog.String("op", utils.OpOf(err)), slog.Any("error", err))
			}
			summary := m.latency.Summary()
			m.logger.Info("monitor stopped", slog.Int("ticks", summary.Count), slog.Duration("tick_p95", summary.P95))
			return nil
		case <-ticker.C:
			if _, err := m.Tick(ctx); err != nil {
				m.logger.Warn("monitor tick failed", slog.String("op", utils.OpOf(err)), slog.Any("error", err))
			}
		case <-prune:
			before := m.now().Add(-m.retention).UnixMilli()
			removed, err := m.store.Prune(ctx, before)
			if err != nil {
				m.logger.Warn("prune failed", slog.String("op", utils.OpPrune), slog.Any("error", err))
				continue
			}
			m.logger.Debug("pruned anomalies", slog.Int("removed", removed))
		}
	}
}

// BufferStats snapshots every tracked buffer.
func (m *Monitor) BufferStats() map[models.MetricType]models.BufferStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.MetricType]models.BufferStats, len(m.trackers))
	for metric, tracker := range m.trackers {
		out[metric] = tracker.Buffer.Stats(metric)
	}
	return out
}

// TickStats summarises the durations of recent ticks.
func (m *Monitor) TickStats() models.TickStats {
	summary := m.latency.Summary()
	stats := models.TickStats{
		Count: summary.Count,
		P50Ms: milliseconds(summary.P50),
		P95Ms: milliseconds(summary.P95),
		P99Ms: milliseconds(summary.P99),
		MaxMs: milliseconds(summary.Max),
	}
	if !summary.LastAt.IsZero() {
		at := summary.LastAt.UnixMilli()
		stats.LastTickAt = &at
	}
	return stats
}

// PendingCount returns the number of events awaiting correlation.
func (m *Monitor) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func pruneInterval(retention time.Duration) time.Duration {
	interval := retention / 24
	if interval < time.Minute {
		return time.Minute
	}
	if interval > time.Hour {
		return time.Hour
	}
	return interval
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

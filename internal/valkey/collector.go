package valkey

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/betterdb/anomaly-engine/internal/models"
)

// Source is the subset of Client used by the Collector.
type Source interface {
	Info(ctx context.Context, sections ...string) (string, error)
	SlowlogLen(ctx context.Context) (int64, error)
}

var gaugeFields = map[string]models.MetricType{
	"connected_clients":         models.MetricConnections,
	"instantaneous_ops_per_sec": models.MetricOpsPerSec,
	"used_memory":               models.MetricMemoryUsed,
	"instantaneous_input_kbps":  models.MetricInputKbps,
	"instantaneous_output_kbps": models.MetricOutputKbps,
	"blocked_clients":           models.MetricBlockedClients,
	"mem_fragmentation_ratio":   models.MetricFragmentationRatio,
}

var counterFields = map[string]models.MetricType{
	"evicted_keys":    models.MetricEvictedKeys,
	"keyspace_misses": models.MetricKeyspaceMisses,
}

const aclDeniedPrefix = "acl_access_denied_"

// Collector turns INFO and SLOWLOG LEN replies into metric readings.
// Cumulative counters are reported as the delta since the previous Sample.
type Collector struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	counters map[models.MetricType]float64
}

// NewCollector wraps source.
func NewCollector(source Source, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source:   source,
		logger:   logger,
		now:      time.Now,
		counters: make(map[models.MetricType]float64),
	}
}

// Sample polls the instance once. A failed INFO call fails the sample; a
// failed SLOWLOG LEN only drops that reading.
func (c *Collector) Sample(ctx context.Context) ([]models.Reading, error) {
	raw, err := c.source.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("info: %w", err)
	}
	ts := c.now().UnixMilli()
	info := ParseInfo(raw)

	readings := make([]models.Reading, 0, len(models.AllMetricTypes()))
	for field, metric := range gaugeFields {
		value, ok := c.parseField(info, field)
		if !ok {
			continue
		}
		readings = append(readings, models.Reading{MetricType: metric, Value: value, Timestamp: ts})
	}

	c.mu.Lock()
	for field, metric := range counterFields {
		value, ok := c.parseField(info, field)
		if !ok {
			continue
		}
		if delta, ok := c.delta(metric, value); ok {
			readings = append(readings, models.Reading{MetricType: metric, Value: delta, Timestamp: ts})
		}
	}
	if total, ok := c.aclDenied(info); ok {
		if delta, ok := c.delta(models.MetricACLDenied, total); ok {
			readings = append(readings, models.Reading{MetricType: models.MetricACLDenied, Value: delta, Timestamp: ts})
		}
	}
	c.mu.Unlock()

	if n, err := c.source.SlowlogLen(ctx); err != nil {
		c.logger.Warn("slowlog len failed", slog.Any("error", err))
	} else {
		readings = append(readings, models.Reading{MetricType: models.MetricSlowlogCount, Value: float64(n), Timestamp: ts})
	}

	sortReadings(readings)
	return readings, nil
}

// delta returns the increase since the previous observation. The first
// observation and counter resets only record the new baseline.
func (c *Collector) delta(metric models.MetricType, value float64) (float64, bool) {
	prev, seen := c.counters[metric]
	c.counters[metric] = value
	if !seen || value < prev {
		return 0, false
	}
	return value - prev, true
}

func (c *Collector) aclDenied(info map[string]string) (float64, bool) {
	var (
		total float64
		found bool
	)
	for key := range info {
		if !strings.HasPrefix(key, aclDeniedPrefix) {
			continue
		}
		value, ok := c.parseField(info, key)
		if !ok {
			continue
		}
		total += value
		found = true
	}
	return total, found
}

func (c *Collector) parseField(info map[string]string, field string) (float64, bool) {
	raw, ok := info[field]
	if !ok {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.logger.Debug("skipping unparsable INFO field", slog.String("field", field), slog.String("value", raw))
		return 0, false
	}
	return value, true
}

// ParseInfo splits an INFO payload into key/value pairs, skipping section
// headers and blank lines.
func ParseInfo(text string) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

func sortReadings(readings []models.Reading) {
	order := make(map[models.MetricType]int, len(models.AllMetricTypes()))
	for i, m := range models.AllMetricTypes() {
		order[m] = i
	}
	sort.Slice(readings, func(i, j int) bool {
		return order[readings[i].MetricType] < order[readings[j].MetricType]
	})
}

package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/betterdb/anomaly-engine/internal/models"
)

// DefaultCorrelationWindowMs is the span, anchored at a group's first member,
// within which later anomalies join the same group.
const DefaultCorrelationWindowMs = int64(5000)

// Correlator groups anomalies by time proximity and diagnoses each group
// against an ordered rule table. It holds no state between calls.
type Correlator struct {
	windowMs int64
	rules    []PatternRule
	newID    func() string
}

// NewCorrelator constructs a Correlator. A non-positive window uses the
// default and nil rules use DefaultRules.
func NewCorrelator(windowMs int64, rules []PatternRule) *Correlator {
	if windowMs <= 0 {
		windowMs = DefaultCorrelationWindowMs
	}
	if rules == nil {
		rules = DefaultRules()
	}
	return &Correlator{
		windowMs: windowMs,
		rules:    rules,
		newID:    func() string { return uuid.New().String() },
	}
}

// WindowMs returns the configured correlation window.
func (c *Correlator) WindowMs() int64 {
	return c.windowMs
}

// Rules returns the rule table in evaluation order.
func (c *Correlator) Rules() []PatternRule {
	return append([]PatternRule(nil), c.rules...)
}

// Correlate partitions events into correlation windows and diagnoses each.
// The input slice is left untouched; returned groups hold copies of the
// events carrying their CorrelationID and RelatedMetrics.
func (c *Correlator) Correlate(events []models.AnomalyEvent) []models.CorrelatedAnomalyGroup {
	if len(events) == 0 {
		return nil
	}

	sorted := append([]models.AnomalyEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	windows := c.partition(sorted)
	groups := make([]models.CorrelatedAnomalyGroup, 0, len(windows))
	for _, window := range windows {
		groups = append(groups, c.buildGroup(window))
	}
	return groups
}

// MatchRule returns the first rule matching events.
func (c *Correlator) MatchRule(events []models.AnomalyEvent) (PatternRule, bool) {
	for _, rule := range c.rules {
		if rule.Matches(events) {
			return rule, true
		}
	}
	return PatternRule{}, false
}

// partition splits time-sorted events into windows anchored at each window's
// first member.
func (c *Correlator) partition(sorted []models.AnomalyEvent) [][]models.AnomalyEvent {
	var windows [][]models.AnomalyEvent
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i].Timestamp-sorted[start].Timestamp <= c.windowMs {
			continue
		}
		windows = append(windows, sorted[start:i])
		start = i
	}
	return windows
}

func (c *Correlator) buildGroup(window []models.AnomalyEvent) models.CorrelatedAnomalyGroup {
	correlationID := c.newID()

	members := make([]models.AnomalyEvent, len(window))
	severity := models.SeverityInfo
	timestamp := window[0].Timestamp
	for i, ev := range window {
		member := ev
		member.CorrelationID = correlationID
		member.RelatedMetrics = otherMetrics(window, i)
		members[i] = member

		severity = models.MaxSeverity(severity, ev.Severity)
		if ev.Timestamp < timestamp {
			timestamp = ev.Timestamp
		}
	}

	group := models.CorrelatedAnomalyGroup{
		CorrelationID: correlationID,
		Timestamp:     timestamp,
		Anomalies:     members,
		Severity:      severity,
	}

	if rule, ok := c.MatchRule(window); ok {
		group.Pattern = rule.Pattern
		group.Diagnosis = rule.Diagnosis
		group.Recommendations = append([]string(nil), rule.Recommendations...)
		return group
	}

	group.Pattern = models.PatternUnknown
	if len(window) == 1 {
		group.Diagnosis = fmt.Sprintf("%s anomaly detected", window[0].MetricType)
	} else {
		names := make([]string, 0, len(window))
		for _, ev := range window {
			names = append(names, string(ev.MetricType))
		}
		group.Diagnosis = "Multiple concurrent anomalies detected: " + strings.Join(names, ", ")
	}
	group.Recommendations = []string{
		"Investigate correlation between affected metrics",
		"Review application behavior during this time",
	}
	return group
}

// Annotate copies correlation ids and related metrics from groups onto the
// matching events (by ID) in events, mutating them in place.
func Annotate(events []models.AnomalyEvent, groups []models.CorrelatedAnomalyGroup) {
	index := make(map[string]int, len(events))
	for i, ev := range events {
		index[ev.ID] = i
	}
	for _, group := range groups {
		for _, member := range group.Anomalies {
			i, ok := index[member.ID]
			if !ok {
				continue
			}
			events[i].CorrelationID = member.CorrelationID
			events[i].RelatedMetrics = append([]models.MetricType(nil), member.RelatedMetrics...)
		}
	}
}

func otherMetrics(window []models.AnomalyEvent, self int) []models.MetricType {
	if len(window) < 2 {
		return nil
	}
	related := make([]models.MetricType, 0, len(window)-1)
	for i, ev := range window {
		if i == self {
			continue
		}
		related = append(related, ev.MetricType)
	}
	return related
}

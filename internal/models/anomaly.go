package models

// AnomalyType distinguishes upward from downward deviations.
type AnomalyType string

const (
	AnomalySpike AnomalyType = "spike"
	AnomalyDrop  AnomalyType = "drop"
)

// Severity captures impact levels. Ordering is info < warning < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AnomalyPattern is a named higher-level diagnosis for a correlated group.
type AnomalyPattern string

const (
	PatternTrafficBurst   AnomalyPattern = "traffic_burst"
	PatternBatchJob       AnomalyPattern = "batch_job"
	PatternMemoryPressure AnomalyPattern = "memory_pressure"
	PatternSlowQueries    AnomalyPattern = "slow_queries"
	PatternAuthAttack     AnomalyPattern = "auth_attack"
	PatternConnectionLeak AnomalyPattern = "connection_leak"
	PatternCacheThrashing AnomalyPattern = "cache_thrashing"
	PatternUnknown        AnomalyPattern = "unknown"
)

// AnomalyEvent is a confirmed spike or drop on a single metric.
//
// CorrelationID and RelatedMetrics are filled by correlation; Resolved,
// ResolvedAt and DurationMs by the resolution pass once the metric settles.
type AnomalyEvent struct {
	ID             string       `json:"id"`
	Timestamp      int64        `json:"timestamp"`
	MetricType     MetricType   `json:"metricType"`
	AnomalyType    AnomalyType  `json:"anomalyType"`
	Severity       Severity     `json:"severity"`
	Value          float64      `json:"value"`
	Baseline       float64      `json:"baseline"`
	StdDev         float64      `json:"stdDev"`
	ZScore         float64      `json:"zScore"`
	Threshold      float64      `json:"threshold"`
	Message        string       `json:"message"`
	CorrelationID  string       `json:"correlationId,omitempty"`
	RelatedMetrics []MetricType `json:"relatedMetrics,omitempty"`
	Resolved       bool         `json:"resolved"`
	ResolvedAt     *int64       `json:"resolvedAt,omitempty"`
	DurationMs     *int64       `json:"durationMs,omitempty"`
}

// CorrelatedAnomalyGroup is a set of anomalies that occurred within one
// correlation window together with the diagnosis of their likely cause.
type CorrelatedAnomalyGroup struct {
	CorrelationID   string         `json:"correlationId"`
	Timestamp       int64          `json:"timestamp"`
	Anomalies       []AnomalyEvent `json:"anomalies"`
	Pattern         AnomalyPattern `json:"pattern"`
	Diagnosis       string         `json:"diagnosis"`
	Recommendations []string       `json:"recommendations"`
	Severity        Severity       `json:"severity"`
}

// MetricTypes returns the metric type of every member in order.
func (g CorrelatedAnomalyGroup) MetricTypes() []MetricType {
	out := make([]MetricType, 0, len(g.Anomalies))
	for _, a := range g.Anomalies {
		out = append(out, a.MetricType)
	}
	return out
}

// Summary aggregates stored anomalies for reporting.
type Summary struct {
	TotalEvents     int                    `json:"totalEvents"`
	UnresolvedCount int                    `json:"unresolvedCount"`
	BySeverity      map[Severity]int       `json:"bySeverity"`
	ByMetric        map[MetricType]int     `json:"byMetric"`
	ByPattern       map[AnomalyPattern]int `json:"byPattern"`
}

package models

// MetricType names a scalar metric sampled from the monitored instance.
type MetricType string

const (
	MetricConnections        MetricType = "connections"
	MetricOpsPerSec          MetricType = "ops_per_sec"
	MetricMemoryUsed         MetricType = "memory_used"
	MetricInputKbps          MetricType = "input_kbps"
	MetricOutputKbps         MetricType = "output_kbps"
	MetricSlowlogCount       MetricType = "slowlog_count"
	MetricACLDenied          MetricType = "acl_denied"
	MetricEvictedKeys        MetricType = "evicted_keys"
	MetricBlockedClients     MetricType = "blocked_clients"
	MetricKeyspaceMisses     MetricType = "keyspace_misses"
	MetricFragmentationRatio MetricType = "fragmentation_ratio"
)

// AllMetricTypes lists every tracked metric in a stable order.
func AllMetricTypes() []MetricType {
	return []MetricType{
		MetricConnections,
		MetricOpsPerSec,
		MetricMemoryUsed,
		MetricInputKbps,
		MetricOutputKbps,
		MetricSlowlogCount,
		MetricACLDenied,
		MetricEvictedKeys,
		MetricBlockedClients,
		MetricKeyspaceMisses,
		MetricFragmentationRatio,
	}
}

// Valid reports whether m is one of the known metric types.
func (m MetricType) Valid() bool {
	for _, known := range AllMetricTypes() {
		if m == known {
			return true
		}
	}
	return false
}

// Label returns a human-facing name used in anomaly messages.
func (m MetricType) Label() string {
	switch m {
	case MetricConnections:
		return "Connections"
	case MetricOpsPerSec:
		return "Ops/sec"
	case MetricMemoryUsed:
		return "Memory used"
	case MetricInputKbps:
		return "Input throughput"
	case MetricOutputKbps:
		return "Output throughput"
	case MetricSlowlogCount:
		return "Slowlog entries"
	case MetricACLDenied:
		return "ACL denials"
	case MetricEvictedKeys:
		return "Evicted keys"
	case MetricBlockedClients:
		return "Blocked clients"
	case MetricKeyspaceMisses:
		return "Keyspace misses"
	case MetricFragmentationRatio:
		return "Fragmentation ratio"
	default:
		return string(m)
	}
}

// MetricSample is a single raw observation.
type MetricSample struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// BufferStats is a read-only snapshot of a metric buffer.
type BufferStats struct {
	MetricType  MetricType `json:"metricType"`
	SampleCount int        `json:"sampleCount"`
	Mean        float64    `json:"mean"`
	StdDev      float64    `json:"stdDev"`
	Min         float64    `json:"min"`
	Max         float64    `json:"max"`
	Latest      float64    `json:"latest"`
	IsReady     bool       `json:"isReady"`
}

// TickStats summarises the durations of recent monitor ticks.
type TickStats struct {
	Count      int     `json:"count"`
	P50Ms      float64 `json:"p50Ms"`
	P95Ms      float64 `json:"p95Ms"`
	P99Ms      float64 `json:"p99Ms"`
	MaxMs      float64 `json:"maxMs"`
	LastTickAt *int64  `json:"lastTickAt,omitempty"`
}

// Reading is one inbound (metric, value, timestamp) triple from a sampler.
type Reading struct {
	MetricType MetricType `json:"metricType"`
	Value      float64    `json:"value"`
	Timestamp  int64      `json:"timestamp"`
}

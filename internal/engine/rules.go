package engine

import (
	"github.com/betterdb/anomaly-engine/internal/models"
)

// PatternRule maps a set of co-occurring metric anomalies to a diagnosis.
// A rule matches when every RequiredMetrics entry is present in the group and
// Predicate, if set, accepts the group's events.
type PatternRule struct {
	ID              string
	Pattern         models.AnomalyPattern
	RequiredMetrics []models.MetricType
	Predicate       func(events []models.AnomalyEvent) bool
	Diagnosis       string
	Recommendations []string
}

// Matches reports whether the rule applies to events.
func (r PatternRule) Matches(events []models.AnomalyEvent) bool {
	present := make(map[models.MetricType]struct{}, len(events))
	for _, ev := range events {
		present[ev.MetricType] = struct{}{}
	}
	for _, required := range r.RequiredMetrics {
		if _, ok := present[required]; !ok {
			return false
		}
	}
	if r.Predicate != nil && !r.Predicate(events) {
		return false
	}
	return true
}

// DefaultRules returns the ordered production rule table. Earlier rules win,
// so specific multi-metric signatures precede single-metric fallbacks.
func DefaultRules() []PatternRule {
	return []PatternRule{
		{
			ID:              "auth_attack",
			Pattern:         models.PatternAuthAttack,
			RequiredMetrics: []models.MetricType{models.MetricACLDenied},
			Diagnosis:       "Spike in ACL denials indicates a possible brute-force or misconfigured client",
			Recommendations: []string{
				"Review the ACL LOG for the offending usernames and client addresses",
				"Block or rate-limit the source IPs at the network layer",
				"Verify recently deployed clients are using the correct credentials",
			},
		},
		{
			ID:              "slow_queries",
			Pattern:         models.PatternSlowQueries,
			RequiredMetrics: []models.MetricType{models.MetricSlowlogCount},
			Diagnosis:       "Slow commands are accumulating in the slowlog",
			Recommendations: []string{
				"Inspect SLOWLOG GET for the slowest command patterns",
				"Avoid O(N) commands such as KEYS, SMEMBERS or HGETALL on large keys",
				"Consider pipelining or splitting large values",
			},
		},
		{
			ID:              "memory_pressure_eviction",
			Pattern:         models.PatternMemoryPressure,
			RequiredMetrics: []models.MetricType{models.MetricMemoryUsed},
			Predicate: func(events []models.AnomalyEvent) bool {
				return hasSpike(events, models.MetricMemoryUsed) &&
					(hasMetric(events, models.MetricEvictedKeys) || len(events) == 1)
			},
			Diagnosis: "Memory usage is climbing toward maxmemory and keys are being evicted",
			Recommendations: []string{
				"Check maxmemory and maxmemory-policy settings",
				"Identify large keys with MEMORY USAGE or --bigkeys",
				"Set TTLs on keys that do not need to live forever",
				"Scale the instance vertically or shard the dataset",
			},
		},
		{
			ID:              "cache_thrashing",
			Pattern:         models.PatternCacheThrashing,
			RequiredMetrics: []models.MetricType{models.MetricKeyspaceMisses, models.MetricEvictedKeys},
			Diagnosis:       "Evictions are removing keys that clients immediately request again",
			Recommendations: []string{
				"Increase maxmemory so the working set fits",
				"Review the eviction policy (allkeys-lru vs volatile-lru)",
				"Check for cache stampedes after mass expirations",
			},
		},
		{
			ID:              "connection_leak",
			Pattern:         models.PatternConnectionLeak,
			RequiredMetrics: []models.MetricType{models.MetricConnections},
			Predicate: func(events []models.AnomalyEvent) bool {
				return hasSpike(events, models.MetricConnections) && !hasMetric(events, models.MetricOpsPerSec)
			},
			Diagnosis: "Connections are growing without matching traffic, suggesting leaked or idle clients",
			Recommendations: []string{
				"Inspect CLIENT LIST for idle connections and their owners",
				"Verify application connection pools are closed and bounded",
				"Set a timeout to reap idle clients",
			},
		},
		{
			ID:              "batch_job",
			Pattern:         models.PatternBatchJob,
			RequiredMetrics: []models.MetricType{models.MetricConnections, models.MetricOpsPerSec},
			Predicate: func(events []models.AnomalyEvent) bool {
				return hasSpike(events, models.MetricConnections) &&
					hasSpike(events, models.MetricOpsPerSec) &&
					hasSpike(events, models.MetricMemoryUsed)
			},
			Diagnosis: "Connections, throughput and memory rose together, consistent with a batch or import job",
			Recommendations: []string{
				"Confirm whether a scheduled job or bulk import started at this time",
				"Throttle the job or move it to an off-peak window",
				"Ensure maxmemory headroom covers the job's working set",
			},
		},
		{
			ID:              "traffic_burst",
			Pattern:         models.PatternTrafficBurst,
			RequiredMetrics: []models.MetricType{models.MetricConnections, models.MetricOpsPerSec},
			Predicate: func(events []models.AnomalyEvent) bool {
				return hasSpike(events, models.MetricConnections) &&
					hasSpike(events, models.MetricOpsPerSec) &&
					!hasSpike(events, models.MetricMemoryUsed)
			},
			Diagnosis: "New clients and throughput spiked together, consistent with a traffic burst",
			Recommendations: []string{
				"Correlate with upstream traffic, releases or marketing events",
				"Verify client-side rate limiting and retries with backoff",
				"Consider adding read replicas for read-heavy bursts",
			},
		},
		{
			ID:              "traffic_burst_bandwidth",
			Pattern:         models.PatternTrafficBurst,
			RequiredMetrics: []models.MetricType{models.MetricInputKbps, models.MetricOutputKbps},
			Predicate: func(events []models.AnomalyEvent) bool {
				return hasSpike(events, models.MetricInputKbps) && hasSpike(events, models.MetricOutputKbps)
			},
			Diagnosis: "Network input and output throughput spiked together",
			Recommendations: []string{
				"Look for large values being written and read back",
				"Check network saturation between clients and the server",
			},
		},
		{
			ID:              "slow_queries_blocking",
			Pattern:         models.PatternSlowQueries,
			RequiredMetrics: []models.MetricType{models.MetricBlockedClients, models.MetricOpsPerSec},
			Predicate: func(events []models.AnomalyEvent) bool {
				return hasDrop(events, models.MetricOpsPerSec)
			},
			Diagnosis: "Clients are blocking while throughput drops, suggesting a long-running command stalls the server",
			Recommendations: []string{
				"Check SLOWLOG and LATENCY DOCTOR for the blocking command",
				"Review Lua scripts and MULTI blocks for long execution times",
			},
		},
		{
			ID:              "traffic_burst_ops",
			Pattern:         models.PatternTrafficBurst,
			RequiredMetrics: []models.MetricType{models.MetricOpsPerSec},
			Diagnosis:       "Operations per second deviated sharply from baseline",
			Recommendations: []string{
				"Identify the dominant commands with COMMANDSTATS",
				"Correlate with application deployments or traffic changes",
			},
		},
		{
			ID:              "memory_pressure_fragmentation",
			Pattern:         models.PatternMemoryPressure,
			RequiredMetrics: []models.MetricType{models.MetricFragmentationRatio},
			Diagnosis:       "Memory fragmentation ratio is abnormal",
			Recommendations: []string{
				"Enable activedefrag if supported",
				"Schedule a controlled restart or failover to compact memory",
			},
		},
		{
			ID:              "memory_pressure_evictions",
			Pattern:         models.PatternMemoryPressure,
			RequiredMetrics: []models.MetricType{models.MetricEvictedKeys},
			Diagnosis:       "Keys are being evicted at an unusual rate",
			Recommendations: []string{
				"Check maxmemory and the configured eviction policy",
				"Review key TTLs and dataset growth",
			},
		},
		{
			ID:              "connection_leak_single",
			Pattern:         models.PatternConnectionLeak,
			RequiredMetrics: []models.MetricType{models.MetricConnections},
			Diagnosis:       "Connected client count deviated from baseline",
			Recommendations: []string{
				"Inspect CLIENT LIST for unexpected clients",
				"Verify connection pool sizing across application instances",
			},
		},
		{
			ID:              "slow_queries_blocked",
			Pattern:         models.PatternSlowQueries,
			RequiredMetrics: []models.MetricType{models.MetricBlockedClients},
			Diagnosis:       "Blocked clients increased, indicating clients waiting on blocking commands",
			Recommendations: []string{
				"Review BLPOP/BRPOP/XREAD usage and their timeouts",
				"Check producers feeding the blocked queues",
			},
		},
		{
			ID:              "cache_thrashing_misses",
			Pattern:         models.PatternCacheThrashing,
			RequiredMetrics: []models.MetricType{models.MetricKeyspaceMisses},
			Diagnosis:       "Keyspace misses rose sharply, lowering the cache hit ratio",
			Recommendations: []string{
				"Check for cold caches after a restart or flush",
				"Verify key naming did not change in a recent deployment",
			},
		},
	}
}

func hasMetric(events []models.AnomalyEvent, metric models.MetricType) bool {
	for _, ev := range events {
		if ev.MetricType == metric {
			return true
		}
	}
	return false
}

func hasSpike(events []models.AnomalyEvent, metric models.MetricType) bool {
	return hasAnomaly(events, metric, models.AnomalySpike)
}

func hasDrop(events []models.AnomalyEvent, metric models.MetricType) bool {
	return hasAnomaly(events, metric, models.AnomalyDrop)
}

func hasAnomaly(events []models.AnomalyEvent, metric models.MetricType, kind models.AnomalyType) bool {
	for _, ev := range events {
		if ev.MetricType == metric && ev.AnomalyType == kind {
			return true
		}
	}
	return false
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "anomaly_engine"

var (
	anomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Confirmed anomalies, partitioned by metric, severity and direction.",
		},
		[]string{"metric", "severity", "type"},
	)

	correlatedGroupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlated_groups_total",
			Help:      "Correlated anomaly groups emitted, partitioned by diagnosed pattern.",
		},
		[]string{"pattern"},
	)

	resolvedAnomaliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolved_anomalies_total",
			Help:      "Anomalies marked resolved after their metric settled.",
		},
	)

	sampleErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Failed attempts to sample the monitored instance.",
		},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_seconds",
			Help:      "Duration of a sample, detect and correlate tick in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
)

// Register attaches anomaly-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		anomaliesDetectedTotal,
		correlatedGroupsTotal,
		resolvedAnomaliesTotal,
		sampleErrorsTotal,
		tickDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnomaly counts a confirmed anomaly.
func ObserveAnomaly(metric, severity, anomalyType string) {
	anomaliesDetectedTotal.WithLabelValues(metric, severity, anomalyType).Inc()
}

// ObserveGroup counts an emitted correlated group.
func ObserveGroup(pattern string) {
	correlatedGroupsTotal.WithLabelValues(pattern).Inc()
}

// ObserveResolved adds n resolved anomalies.
func ObserveResolved(n int) {
	if n <= 0 {
		return
	}
	resolvedAnomaliesTotal.Add(float64(n))
}

// ObserveSampleError counts a failed sampling attempt.
func ObserveSampleError() {
	sampleErrorsTotal.Inc()
}

// ObserveTick records the duration of one monitor tick.
func ObserveTick(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
}
